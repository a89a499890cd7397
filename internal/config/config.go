package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"panel-tracker/internal/types"
)

// Config 定义应用程序的配置结构
// 使用 mapstructure 标签来映射配置文件中的字段
type Config struct {
	HTTPAddr             string         `mapstructure:"http_addr"`              // 编排服务监听地址
	JournalPath          string         `mapstructure:"journal_path"`           // 审计日志 (WAL) 文件路径
	StatsIntervalMs      int            `mapstructure:"stats_interval_ms"`      // 统计快照采样周期
	LineAssignments      map[string]int `mapstructure:"line_assignments"`       // 面板类型 -> 产线编号
	ReworkEscalationRule string         `mapstructure:"rework_escalation_rule"` // 返工升级规则 (expr 表达式)，为空表示不限次数
	Terminal             TerminalConfig `mapstructure:"terminal"`
}

// TerminalConfig 是工位终端模拟器的配置
type TerminalConfig struct {
	OrchestratorURL string          `mapstructure:"orchestrator_url"`
	StationID       types.StationID `mapstructure:"station_id"`
	OperatorID      string          `mapstructure:"operator_id"`
	FailRate        float64         `mapstructure:"fail_rate"` // 模拟质检不合格的概率
	PollIntervalMs  int             `mapstructure:"poll_interval_ms"`
}

// StatsInterval 返回统计采样周期
func (c *Config) StatsInterval() time.Duration {
	return time.Duration(c.StatsIntervalMs) * time.Millisecond
}

// PollInterval 返回终端轮询队列的周期
func (t TerminalConfig) PollInterval() time.Duration {
	return time.Duration(t.PollIntervalMs) * time.Millisecond
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("journal_path", "panels.wal")
	v.SetDefault("stats_interval_ms", 2000)
	v.SetDefault("line_assignments", map[string]int{
		"36":  1,
		"40":  1,
		"60":  1,
		"72":  1,
		"144": 2,
	})
	v.SetDefault("rework_escalation_rule", "")
	v.SetDefault("terminal.orchestrator_url", "http://localhost:8080")
	v.SetDefault("terminal.station_id", string(types.Station1))
	v.SetDefault("terminal.operator_id", "")
	v.SetDefault("terminal.fail_rate", 0.1)
	v.SetDefault("terminal.poll_interval_ms", 1000)
}

// LoadConfig 加载配置
// path 为空时在当前目录查找 config.yaml，找不到则使用默认值；
// 显式指定的文件必须存在。环境变量 PANEL_* 覆盖文件中的值
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("PANEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("读取配置文件失败: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.StatsIntervalMs <= 0 {
		return fmt.Errorf("stats_interval_ms must be positive, got %d", c.StatsIntervalMs)
	}
	if c.Terminal.FailRate < 0 || c.Terminal.FailRate > 1 {
		return fmt.Errorf("terminal.fail_rate must be within [0,1], got %v", c.Terminal.FailRate)
	}
	if c.Terminal.PollIntervalMs <= 0 {
		return fmt.Errorf("terminal.poll_interval_ms must be positive, got %d", c.Terminal.PollIntervalMs)
	}
	return nil
}
