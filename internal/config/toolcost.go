package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ToolCost prices a single AI tool in credits.
type ToolCost struct {
	ToolID   string `mapstructure:"toolId" json:"tool_id"`
	ToolName string `mapstructure:"toolName" json:"tool_name"`
	Cost     int64  `mapstructure:"cost" json:"cost"`
}

// ToolCostConfig is the full tool catalog loaded from toolcosts.yml.
type ToolCostConfig struct {
	Tools []ToolCost `mapstructure:"tools"`
}

// DefaultToolCostConfig prices the platform's built-in AI tools. A cost of 0
// marks the tool as free: the platform skips billing for it entirely, and
// billing requests naming it are rejected as free_tool.
func DefaultToolCostConfig() ToolCostConfig {
	return ToolCostConfig{
		Tools: []ToolCost{
			{ToolID: "essay_correction", ToolName: "Corretor de Redações", Cost: 30},
			{ToolID: "flashcards", ToolName: "Gerador de Flashcards", Cost: 10},
			{ToolID: "quiz_simulator", ToolName: "Simulador de Provas", Cost: 5},
			{ToolID: "legal_search", ToolName: "Pesquisa Jurídica", Cost: 15},
			{ToolID: "audience_simulator", ToolName: "Simulador de Audiências", Cost: 20},
			{ToolID: "copy_generator", ToolName: "Gerador de Copy", Cost: 5},
			{ToolID: "logo_generator", ToolName: "Gerador de Logos", Cost: 80},
			{ToolID: "art_creator", ToolName: "Criador de Artes", Cost: 50},
			{ToolID: "video_maker", ToolName: "Gerador de Vídeos", Cost: 250},
			{ToolID: "business_consultant", ToolName: "Consultor de Negócios", Cost: 10},
			{ToolID: "trend_radar", ToolName: "Radar de Tendências", Cost: 0},
		},
	}
}

// ToolCostHolder exposes the current catalog with hot reload on file change.
type ToolCostHolder struct {
	current atomic.Value // holds ToolCostConfig
}

// NewToolCostHolder loads toolcosts.yml and watches it for changes. Missing
// config file falls back to the built-in defaults.
func NewToolCostHolder() (*ToolCostHolder, error) {
	v := viper.New()

	v.SetConfigName("toolcosts")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/creditos")
	v.AddConfigPath(".")

	v.SetEnvPrefix("CREDITOS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	holder := &ToolCostHolder{}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		holder.current.Store(DefaultToolCostConfig())
		return holder, nil
	}

	var cfg ToolCostConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := validateToolCostConfig(cfg); err != nil {
		return nil, err
	}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated ToolCostConfig
		if err := v.Unmarshal(&updated); err != nil {
			log.Printf("[toolcost-config] reload failed: %v", err)
			return
		}
		if err := validateToolCostConfig(updated); err != nil {
			log.Printf("[toolcost-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
	})

	return holder, nil
}

// Current returns the active catalog.
func (h *ToolCostHolder) Current() ToolCostConfig {
	cfg, _ := h.current.Load().(ToolCostConfig)
	return cfg
}

// CostFor resolves the credit cost of a tool. The second return reports
// whether the tool is known.
func (h *ToolCostHolder) CostFor(toolID string) (int64, bool) {
	toolID = strings.TrimSpace(toolID)
	if toolID == "" {
		return 0, false
	}
	for _, tool := range h.Current().Tools {
		if tool.ToolID == toolID {
			return tool.Cost, true
		}
	}
	return 0, false
}

func validateToolCostConfig(cfg ToolCostConfig) error {
	seen := make(map[string]struct{}, len(cfg.Tools))
	for _, tool := range cfg.Tools {
		id := strings.TrimSpace(tool.ToolID)
		if id == "" {
			return errors.New("tool cost entry missing toolId")
		}
		if tool.Cost < 0 {
			return errors.New("tool cost must not be negative: " + id)
		}
		if _, dup := seen[id]; dup {
			return errors.New("duplicate tool cost entry: " + id)
		}
		seen[id] = struct{}{}
	}
	return nil
}
