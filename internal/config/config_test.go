package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"plctags/internal/diag"
	"plctags/internal/pipeline"
	"plctags/internal/rate"
	"plctags/internal/session"
	"plctags/pkg/contract"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// UT-CFG-01: JSON / TOML / YAML 解析结果一致
func TestLoadFileFormats(t *testing.T) {
	for _, name := range []string{"basic.json", "basic.toml", "basic.yaml"} {
		t.Run(name, func(t *testing.T) {
			cfg, err := LoadFile(filepath.Join("../../testdata/config", name))
			require.NoError(t, err)
			assert.Equal(t, []string{"lists/line1.txt"}, cfg.Inputs)
			assert.Equal(t, 2, cfg.Concurrency)
			assert.Equal(t, 1, cfg.MaxRetries)
			assert.Equal(t, "192.168.1.10", cfg.Host)
			assert.Equal(t, "readable", cfg.OutputFormat)
			assert.Equal(t, "debug", cfg.Logging.Level)
			assert.Equal(t, "fs", cfg.Components.Writer)
			assert.Equal(t, "line1", cfg.Driver)
			p := cfg.Provider["line1"]
			assert.Equal(t, "sim", p.Driver)
			assert.Equal(t, Limits{RPM: 600, Burst: 5, MaxElementsPerReq: 100}, p.Limits)
			assert.JSONEq(t, `{"latency_ms":0,"max_elements":120}`, string(p.Options))
			assert.JSONEq(t, `{"max_elements":{"F":30,"N":120}}`, string(cfg.Options.Batcher))
			assert.JSONEq(t, `{"output_dir":"out"}`, string(cfg.Options.Writer))
			require.NoError(t, Validate(Merge(Defaults(), cfg)))
		})
	}
}

// UT-CFG-02: 未知字段在任何格式下都失败
func TestLoadUnknownField(t *testing.T) {
	_, err := LoadJSON("", []byte(`{"unknown":1}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, contract.ErrInvalidInput))
	assert.NotEmpty(t, errors.FlattenHints(err))

	_, err = LoadFile("../../testdata/config/unknown.yaml")
	assert.True(t, errors.Is(err, contract.ErrInvalidInput))

	_, err = LoadJSON("", nil)
	assert.True(t, errors.Is(err, contract.ErrInvalidInput))

	_, err = LoadFile("../../testdata/config/missing.json")
	assert.Error(t, err)
}

// UT-CFG-03: ENV 覆盖部分字段；provider 按字段叠加
func TestEnvOverlay(t *testing.T) {
	env := []string{
		"PLCTAGS_INPUTS=a, b",
		"PLCTAGS_CONCURRENCY=3",
		"PLCTAGS_MAX_RETRIES=0",
		"PLCTAGS_HOST=10.0.0.5",
		"PLCTAGS_OUTPUT_FORMAT=minimal",
		"PLCTAGS_DRIVER=sim",
		"PLCTAGS_COMPONENTS_BATCHER=single",
		"PLCTAGS_PROVIDER__sim__LIMITS_RPM=120",
		"PLCTAGS_UNRELATED=",
		"OTHER=1",
	}
	over, err := EnvOverlay(env)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, over.Inputs)
	assert.Equal(t, 3, over.Concurrency)
	assert.Equal(t, 0, over.MaxRetries)
	assert.Equal(t, "single", over.Components.Batcher)

	base := Defaults()
	base.MaxRetries = 2
	base.Provider["sim"] = Provider{Driver: "sim", Limits: Limits{Burst: 4, EPM: 900}}
	cfg := MergeEnv(base, over)
	assert.Equal(t, 0, cfg.MaxRetries)
	assert.Equal(t, "10.0.0.5", cfg.Host)
	assert.Equal(t, "minimal", cfg.OutputFormat)
	assert.Equal(t, Limits{RPM: 120, Burst: 4, EPM: 900}, cfg.Provider["sim"].Limits)
	assert.Equal(t, "sim", cfg.Provider["sim"].Driver)
	require.NoError(t, Validate(cfg))

	_, err = EnvOverlay([]string{"PLCTAGS_CONCURRENCY=many"})
	assert.True(t, errors.Is(err, contract.ErrInvalidInput))
	_, err = EnvOverlay([]string{"PLCTAGS_PROVIDER__sim__LIMITS_EPM=x"})
	assert.True(t, errors.Is(err, contract.ErrInvalidInput))
}

func TestMergeMaxRetriesUnset(t *testing.T) {
	base := Defaults()
	base.MaxRetries = 3
	cfg := Merge(base, Config{MaxRetries: -1})
	assert.Equal(t, 3, cfg.MaxRetries)
	cfg = Merge(base, Config{MaxRetries: 0, Driver: " flaky "})
	assert.Equal(t, 0, cfg.MaxRetries)
	assert.Equal(t, "flaky", cfg.Driver)
}

func TestSplitCommaAtoi(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, splitComma("a, b , ,c"))
	assert.Nil(t, splitComma(""))
	v, err := atoi("K", " 10 ")
	require.NoError(t, err)
	assert.Equal(t, 10, v)
}

func TestDefaultsClone(t *testing.T) {
	d := Defaults()
	assert.Equal(t, "fs", d.Components.Reader)
	assert.Equal(t, "stdout", d.Components.Writer)
	src := []byte("abc")
	dst := cloneRaw(src)
	src[0] = 'x'
	assert.Equal(t, "abc", string(dst))
}

func TestValidateErrors(t *testing.T) {
	require.NoError(t, Validate(DefaultTemplateConfig()))

	cases := map[string]func(*Config){
		"dash mixed":       func(c *Config) { c.Inputs = []string{"-", "a"} },
		"empty input":      func(c *Config) { c.Inputs = []string{" "} },
		"concurrency":      func(c *Config) { c.Concurrency = 0 },
		"retries":          func(c *Config) { c.MaxRetries = -1 },
		"format":           func(c *Config) { c.OutputFormat = "fancy" },
		"no driver":        func(c *Config) { c.Driver = "" },
		"unknown provider": func(c *Config) { c.Driver = "nope" },
		"empty driver":     func(c *Config) { c.Provider = map[string]Provider{"sim": {}} },
		"unregistered":     func(c *Config) { c.Provider = map[string]Provider{"sim": {Driver: "ethernet"}} },
		"negative limit":   func(c *Config) { c.Provider = map[string]Provider{"sim": {Driver: "sim", Limits: Limits{RPM: -1}}} },
		"component":        func(c *Config) { c.Components.Batcher = "greedy" },
	}
	for name, mut := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultTemplateConfig()
			mut(&cfg)
			err := Validate(cfg)
			require.Error(t, err)
			assert.True(t, errors.Is(err, contract.ErrInvalidInput), "%v", err)
		})
	}
}

func TestAssembleModes(t *testing.T) {
	cfg := DefaultTemplateConfig()
	cfg.Inputs = []string{"lists"}
	cfg.Provider["sim"] = Provider{Driver: "sim", Limits: Limits{RPM: 600, MaxElementsPerReq: 50}}

	// 优化模式无需控制器
	comp, set, err := Assemble(cfg, pipeline.ModeOptimize)
	require.NoError(t, err)
	assert.Nil(t, comp.Driver)
	assert.NotNil(t, comp.Batcher)
	assert.Equal(t, contract.BatchLimit{MaxElements: 50}, set.Limit)
	assert.Equal(t, pipeline.ModeOptimize, set.Mode)

	// 读模式要求 host
	_, _, err = Assemble(cfg, pipeline.ModeRead)
	require.Error(t, err)
	assert.True(t, errors.Is(err, contract.ErrNotConnected))
	assert.NotEmpty(t, errors.FlattenHints(err))

	cfg.Host = "192.168.1.10"
	comp, set, err = Assemble(cfg, pipeline.ModeRead)
	require.NoError(t, err)
	t.Cleanup(func() { _ = comp.Driver.Close() })
	assert.NotNil(t, comp.Driver)
	assert.NotNil(t, set.Gate)
	assert.Equal(t, rate.LimitKey("sim@192.168.1.10"), set.GateKey)
	assert.Equal(t, 2, set.MaxRetries)

	cfg.Inputs = nil
	_, _, err = Assemble(cfg, pipeline.ModeRead)
	assert.True(t, errors.Is(err, contract.ErrInvalidInput))

	cfg.Inputs = []string{"lists"}
	cfg.Options.Batcher = json.RawMessage(`{"bogus":1}`)
	_, _, err = Assemble(cfg, pipeline.ModeOptimize)
	assert.True(t, errors.Is(err, contract.ErrInvalidInput))
}

func TestSessionFromConfig(t *testing.T) {
	cfg := DefaultTemplateConfig()
	cfg.OutputFormat = "minimal"
	s, err := Session(cfg, diag.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	assert.Equal(t, session.FormatMinimal, s.Format())
	assert.Empty(t, s.Host())

	// 未指定地址时读取失败
	_, err = s.Read(t.Context(), "N7:0")
	assert.True(t, errors.Is(err, contract.ErrNotConnected))

	require.NoError(t, s.Connect("10.0.0.9"))
	rs, err := s.Read(t.Context(), "S:37")
	require.NoError(t, err)
	require.Len(t, rs, 1)
	assert.NoError(t, rs[0].Err)
}

func TestWriteTemplate(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "init")
	wrote, err := WriteTemplate(dir)
	require.NoError(t, err)
	assert.Len(t, wrote, 2)

	cfg, err := LoadJSON(filepath.Join(dir, "config.json"), nil)
	require.NoError(t, err)
	require.NoError(t, Validate(cfg))
	assert.Contains(t, cfg.Provider, "flaky")

	// modbus 示例可直接装配（连接延迟到首次请求）
	cfg.Driver, cfg.Host = "modbus", "10.0.0.9"
	comp, set, err := Assemble(cfg, pipeline.ModeRead)
	require.NoError(t, err)
	assert.Equal(t, rate.LimitKey("modbus@10.0.0.9"), set.GateKey)
	assert.Equal(t, contract.BatchLimit{MaxElements: 120}, set.Limit)
	require.NoError(t, comp.Driver.Close())

	env, err := os.ReadFile(filepath.Join(dir, ".env"))
	require.NoError(t, err)
	assert.Contains(t, string(env), "PLCTAGS_PROVIDER__sim__LIMITS_EPM=")

	// 不覆盖已存在文件
	wrote, err = WriteTemplate(dir)
	require.NoError(t, err)
	assert.Empty(t, wrote)
}

func TestDiscoverAndDotEnv(t *testing.T) {
	dir := t.TempDir()
	assert.Empty(t, Discover(dir))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("concurrency: 2\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte("concurrency = 2\n"), 0o644))
	assert.Equal(t, filepath.Join(dir, "config.toml"), Discover(dir))

	require.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env")))
	const key = "PLCTAGS_TEST_DOTENV_HOST"
	t.Cleanup(func() { _ = os.Unsetenv(key) })
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte(key+"=\"10.1.1.1\"\n"), 0o644))
	require.NoError(t, LoadDotEnv(envPath))
	assert.Equal(t, "10.1.1.1", os.Getenv(key))
}
