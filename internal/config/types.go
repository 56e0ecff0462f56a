package config

import (
	"encoding/json"
)

// Config: 运行期只读配置（一次解析，运行期不变）。
// 键名使用 snake_case；未知字段在解析期失败（JSON/TOML/YAML 一致）。
type Config struct {
	Inputs      []string `json:"inputs"`
	Concurrency int      `json:"concurrency"`
	// MaxRetries: 读请求最大重试次数（>=0）。0 表示不重试。
	MaxRetries int `json:"max_retries"`
	// Host: 目标控制器地址（单命令与 shell 的初始地址）。
	Host string `json:"host"`
	// OutputFormat: raw | readable | minimal。
	OutputFormat string  `json:"output_format"`
	Logging      Logging `json:"logging"`

	// 组件名选择（空则使用默认名）。
	Components Components `json:"components"`

	// Driver 选择 provider 名称；Provider 定义驱动实现、选项与限额。
	Driver   string              `json:"driver"`
	Provider map[string]Provider `json:"provider"`

	// 各组件 Options 子树，原样 JSON 传入工厂。
	Options Options `json:"options"`
}

// Logging: 仅保留日志等级可配置；输出路径与轮转策略为固定默认。
type Logging struct {
	Level string `json:"level"`
}

// Components: 组件名选择（注册表中的实现名）。
type Components struct {
	Reader    string `json:"reader"`
	Splitter  string `json:"splitter"`
	Batcher   string `json:"batcher"`
	Decoder   string `json:"decoder"`
	Assembler string `json:"assembler"`
	Writer    string `json:"writer"`
}

// Options: 各组件的原样 JSON Options。
type Options struct {
	Reader    json.RawMessage `json:"reader"`
	Splitter  json.RawMessage `json:"splitter"`
	Batcher   json.RawMessage `json:"batcher"`
	Decoder   json.RawMessage `json:"decoder"`
	Assembler json.RawMessage `json:"assembler"`
	Writer    json.RawMessage `json:"writer"`
}

// Provider: 命名 provider 定义（驱动实现 + options + 限额）。
type Provider struct {
	Driver  string          `json:"driver"`
	Options json.RawMessage `json:"options"`
	Limits  Limits          `json:"limits"`
}

// Limits: 限流配置（仅承载；执行位于 rate.Gate）。
type Limits struct {
	RPM               int `json:"rpm"`
	Burst             int `json:"burst"`
	EPM               int `json:"epm"`
	MaxElementsPerReq int `json:"max_elements_per_req"`
}
