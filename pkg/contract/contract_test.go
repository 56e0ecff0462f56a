package contract

import (
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNormalizeFileID 验证路径规范化逻辑。
func TestNormalizeFileID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"平台分隔符", filepath.Join("a", "b", "c"), "a/b/c"},
		{"父目录折叠", "./x/../y", "y"},
		{"空串", "", "."},
		{"Windows路径", "C:\\lists\\line1.txt", "C:/lists/line1.txt"},
		{"清理多余斜杠", "lists//cell///tags.txt", "lists/cell/tags.txt"},
		{"混合分隔符", "plant\\line2/./tags.txt", "plant/line2/tags.txt"},
		{"中文路径", "产线\\清单/标签.txt", "产线/清单/标签.txt"},
		{"越界父目录", "a\\..\\..\\d", "../d"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, string(NormalizeFileID(tt.input)))
		})
	}
}

func TestArtifactName(t *testing.T) {
	assert.Equal(t, ArtifactID("line1.values.txt"), ArtifactName("lists/line1.txt", ".values.txt"))
	assert.Equal(t, ArtifactID("tags.optimized.txt"), ArtifactName("tags", ".optimized.txt"))
	assert.Equal(t, ArtifactID(".hidden.values.txt"), ArtifactName("dir/.hidden", ".values.txt"))
}

func TestBatchRequest_AddressAndCoverage(t *testing.T) {
	r := BatchRequest{File: "N9", StartWord: 120, ElementCount: 5}
	assert.Equal(t, "N9:120{5}", r.Address())
	assert.Equal(t, 124, r.EndWord())
	assert.True(t, r.Covers(120))
	assert.True(t, r.Covers(124))
	assert.False(t, r.Covers(119))
	assert.False(t, r.Covers(125))

	p := BatchRequest{File: "T4", Symbol: "0.ACC", ElementCount: 1}
	require.True(t, p.Passthrough())
	assert.Equal(t, "T4:0.ACC", p.String())
	assert.False(t, p.Covers(0), "透传请求不参与字覆盖判定")
}

func TestPlan_Elements(t *testing.T) {
	p := Plan{Requests: []BatchRequest{
		{File: "F8", StartWord: 0, ElementCount: 60},
		{File: "F8", StartWord: 60, ElementCount: 12},
		{File: "T4", Symbol: "0.ACC", ElementCount: 1},
	}}
	assert.Equal(t, 73, p.Elements())
	assert.Equal(t, "plan{requests=3 elements=73 malformed=0}", p.String())
}

func TestResolvedValue_String(t *testing.T) {
	cases := map[string]ResolvedValue{
		"NONE":    {},
		"!ERROR!": ErrorValue(),
		"77":      IntValue(77),
		"-3":      IntValue(-3),
		"1.5":     RealValue(1.5),
		"100":     RealValue(100),
		"true":    BoolValue(true),
		"false":   BoolValue(false),
		"RUN":     TextValue("RUN"),
	}
	for want, v := range cases {
		if got := v.String(); got != want {
			t.Fatalf("渲染不符: got=%q want=%q", got, want)
		}
	}
	assert.True(t, NoneValue().IsSentinel())
	assert.True(t, ErrorValue().IsSentinel())
	assert.False(t, IntValue(0).IsSentinel())
}

func TestBindings_MapLastWins(t *testing.T) {
	bs := Bindings{
		{Tag: "N7:0", Value: IntValue(1)},
		{Tag: "N7:1", Value: NoneValue()},
		{Tag: "N7:0", Value: IntValue(2)},
	}
	m := bs.Map()
	require.Len(t, m, 2)
	assert.Equal(t, IntValue(2), m["N7:0"])
}

func TestSentinelsAreDistinct(t *testing.T) {
	all := []error{ErrMalformedAddress, ErrReadFailure, ErrWriteFailure, ErrNotCovered,
		ErrResponseInvalid, ErrInvalidInput, ErrRateLimited, ErrNotConnected, ErrPathInvalid, ErrInvariantViolation}
	for i, a := range all {
		for j, b := range all {
			if i != j && errors.Is(a, b) {
				t.Fatalf("哨兵错误不应互相匹配: %v ~ %v", a, b)
			}
		}
	}
	wrapped := errors.Wrapf(ErrMalformedAddress, "tag %q", "N7")
	assert.True(t, errors.Is(wrapped, ErrMalformedAddress))
}

func TestValidateRecords(t *testing.T) {
	ok := []Record{{Index: 0, FileID: "a"}, {Index: 1, FileID: "a"}}
	require.NoError(t, ValidateRecords(ok))
	require.NoError(t, ValidateRecords(nil))
	assert.True(t, errors.Is(ValidateRecords([]Record{{Index: 1, FileID: "a"}}), ErrInvariantViolation))
	assert.True(t, errors.Is(ValidateRecords([]Record{{Index: 0, FileID: "a"}, {Index: 1, FileID: "b"}}), ErrInvariantViolation))
	assert.Equal(t, []string{"", ""}, Texts(ok))
}
