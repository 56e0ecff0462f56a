package config

import (
	"strings"

	"plctags/internal/diag"
	"plctags/internal/pipeline"
	"plctags/internal/rate"
	"plctags/internal/session"
	"plctags/pkg/contract"
	"plctags/pkg/registry"

	"github.com/cockroachdb/errors"
)

func invalid(format string, args ...any) error {
	return errors.Wrapf(contract.ErrInvalidInput, "config: "+format, args...)
}

// Validate 对最小必要边界做静态校验（不要求 inputs，文件类命令另行检查）。
func Validate(cfg Config) error {
	dash := false
	for _, r := range cfg.Inputs {
		switch strings.TrimSpace(r) {
		case "":
			return invalid("input path cannot be empty")
		case "-":
			dash = true
		}
	}
	if dash && len(cfg.Inputs) > 1 {
		return invalid("'-' cannot be mixed with other roots")
	}
	if cfg.Concurrency < 1 {
		return invalid("concurrency must be >= 1")
	}
	if cfg.MaxRetries < 0 {
		return invalid("max_retries must be >= 0")
	}
	if _, err := session.ParseFormat(effName(cfg.OutputFormat, Defaults().OutputFormat)); err != nil {
		return err
	}
	if cfg.Driver == "" {
		return invalid("driver not set")
	}
	prov, ok := cfg.Provider[cfg.Driver]
	if !ok {
		return errors.WithHintf(invalid("provider %q not found", cfg.Driver), "known providers: %s", strings.Join(registry.Names(cfg.Provider), ", "))
	}
	if prov.Driver == "" {
		return invalid("provider %q missing driver", cfg.Driver)
	}
	if registry.Driver[prov.Driver] == nil {
		return errors.WithHintf(invalid("driver %q not registered", prov.Driver), "available: %s", strings.Join(registry.Names(registry.Driver), ", "))
	}
	l := prov.Limits
	if l.RPM < 0 || l.Burst < 0 || l.EPM < 0 || l.MaxElementsPerReq < 0 {
		return invalid("provider %q limits must be >= 0", cfg.Driver)
	}
	d := Defaults().Components
	checks := []struct {
		kind, name string
		ok         bool
	}{
		{"reader", effName(cfg.Components.Reader, d.Reader), registry.Reader[effName(cfg.Components.Reader, d.Reader)] != nil},
		{"splitter", effName(cfg.Components.Splitter, d.Splitter), registry.Splitter[effName(cfg.Components.Splitter, d.Splitter)] != nil},
		{"batcher", effName(cfg.Components.Batcher, d.Batcher), registry.Batcher[effName(cfg.Components.Batcher, d.Batcher)] != nil},
		{"decoder", effName(cfg.Components.Decoder, d.Decoder), registry.Decoder[effName(cfg.Components.Decoder, d.Decoder)] != nil},
		{"assembler", effName(cfg.Components.Assembler, d.Assembler), registry.Assembler[effName(cfg.Components.Assembler, d.Assembler)] != nil},
		{"writer", effName(cfg.Components.Writer, d.Writer), registry.Writer[effName(cfg.Components.Writer, d.Writer)] != nil},
	}
	for _, c := range checks {
		if !c.ok {
			return invalid("%s %q not registered", c.kind, c.name)
		}
	}
	return nil
}

// NewGate 按当前 provider 限额构造闸门；各控制器地址独立计量。
func NewGate(cfg Config) rate.Gate {
	l := cfg.Provider[cfg.Driver].Limits
	return rate.NewProviderGate(rate.Limits{RPM: l.RPM, Burst: l.Burst, EPM: l.EPM, MaxElementsPerReq: l.MaxElementsPerReq}, nil)
}

// OpenDriver 返回按 provider 构造驱动的工厂。
func OpenDriver(cfg Config) func(host string) (contract.Driver, error) {
	prov := cfg.Provider[cfg.Driver]
	return func(host string) (contract.Driver, error) {
		f := registry.Driver[prov.Driver]
		if f == nil {
			return nil, invalid("driver %q not registered", prov.Driver)
		}
		return f(host, prov.Options)
	}
}

// Assemble 构造流水线 Components 与 Settings。
// 严格 Options 解析在 registry（工厂）层进行；此处只传 raw JSON。
// 读写模式要求 host；优化模式不建立驱动。
func Assemble(cfg Config, mode pipeline.Mode) (pipeline.Components, pipeline.Settings, error) {
	var zc pipeline.Components
	var zs pipeline.Settings
	if err := Validate(cfg); err != nil {
		return zc, zs, err
	}
	if len(cfg.Inputs) == 0 {
		return zc, zs, errors.WithHint(invalid("inputs empty"), "pass tag list files or '-' for stdin")
	}

	d := Defaults().Components
	r, err := registry.Reader[effName(cfg.Components.Reader, d.Reader)](cfg.Options.Reader)
	if err != nil {
		return zc, zs, errors.Wrap(err, "reader")
	}
	s, err := registry.Splitter[effName(cfg.Components.Splitter, d.Splitter)](cfg.Options.Splitter)
	if err != nil {
		return zc, zs, errors.Wrap(err, "splitter")
	}
	b, err := registry.Batcher[effName(cfg.Components.Batcher, d.Batcher)](cfg.Options.Batcher)
	if err != nil {
		return zc, zs, errors.Wrap(err, "batcher")
	}
	dec, err := registry.Decoder[effName(cfg.Components.Decoder, d.Decoder)](cfg.Options.Decoder)
	if err != nil {
		return zc, zs, errors.Wrap(err, "decoder")
	}
	asm, err := registry.Assembler[effName(cfg.Components.Assembler, d.Assembler)](cfg.Options.Assembler)
	if err != nil {
		return zc, zs, errors.Wrap(err, "assembler")
	}
	w, err := registry.Writer[effName(cfg.Components.Writer, d.Writer)](cfg.Options.Writer)
	if err != nil {
		return zc, zs, errors.Wrap(err, "writer")
	}
	comp := pipeline.Components{Reader: r, Splitter: s, Batcher: b, Decoder: dec, Assembler: asm, Writer: w}

	prov := cfg.Provider[cfg.Driver]
	set := pipeline.Settings{
		Inputs:      cloneStrings(cfg.Inputs),
		Concurrency: cfg.Concurrency,
		MaxRetries:  cfg.MaxRetries,
		Limit:       contract.BatchLimit{MaxElements: prov.Limits.MaxElementsPerReq},
		Mode:        mode,
	}
	if mode == pipeline.ModeOptimize {
		return comp, set, nil
	}
	key, err := rate.DeriveKey(prov.Driver, cfg.Host)
	if err != nil {
		return zc, zs, errors.WithHint(err, "set --host, PLCTAGS_HOST or the host config key")
	}
	drv, err := OpenDriver(cfg)(cfg.Host)
	if err != nil {
		return zc, zs, errors.Wrap(err, "driver")
	}
	comp.Driver = drv
	set.Gate = NewGate(cfg)
	set.GateKey = key
	return comp, set, nil
}

// Session 构造交互/单命令会话；驱动在首次读写时建立。
func Session(cfg Config, logger *diag.Logger) (*session.Session, error) {
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	d := Defaults().Components
	b, err := registry.Batcher[effName(cfg.Components.Batcher, d.Batcher)](cfg.Options.Batcher)
	if err != nil {
		return nil, errors.Wrap(err, "batcher")
	}
	dec, err := registry.Decoder[effName(cfg.Components.Decoder, d.Decoder)](cfg.Options.Decoder)
	if err != nil {
		return nil, errors.Wrap(err, "decoder")
	}
	format, err := session.ParseFormat(effName(cfg.OutputFormat, Defaults().OutputFormat))
	if err != nil {
		return nil, err
	}
	prov := cfg.Provider[cfg.Driver]
	sc := session.Config{
		DriverName:  prov.Driver,
		Open:        OpenDriver(cfg),
		Batcher:     b,
		Decoder:     dec,
		Limit:       contract.BatchLimit{MaxElements: prov.Limits.MaxElementsPerReq},
		Concurrency: cfg.Concurrency,
		MaxRetries:  cfg.MaxRetries,
		Gate:        NewGate(cfg),
		Logger:      logger,
	}
	return session.New(sc, cfg.Host, format), nil
}

func effName(got, def string) string {
	if strings.TrimSpace(got) == "" {
		return def
	}
	return strings.TrimSpace(got)
}
