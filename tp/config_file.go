package tp

import (
	"fmt"
	"os"
	"strings"

	"github.com/LoveWonYoung/docan/addressing"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

const envPrefix = "DOCAN"

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("name", c.Name)
	v.SetDefault("tx_data_length", c.TxDataLength)
	v.SetDefault("max_concurrent_channels", c.MaxConcurrentChannels)
	v.SetDefault("max_message_size", c.MaxMessageSize)
	v.SetDefault("timeout_n_as", c.TimeoutN_As)
	v.SetDefault("timeout_n_bs", c.TimeoutN_Bs)
	v.SetDefault("timeout_n_cs", c.TimeoutN_Cs)
	v.SetDefault("timeout_n_br", c.TimeoutN_Br)
	v.SetDefault("timeout_n_cr", c.TimeoutN_Cr)
	v.SetDefault("block_size", c.BlockSize)
	v.SetDefault("separation_time", c.SeparationTime)
	v.SetDefault("min_tx_separation_time", c.MinTxSeparationTime)
	v.SetDefault("max_wait_frames", c.MaxWaitFrames)
	_ = v.BindEnv("padding_byte")
}

// LoadConfig reads a configuration file (toml, yaml or json by extension) on top of
// DefaultConfig. DOCAN_* environment variables override file values. An empty path
// loads defaults and environment only.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, DefaultConfig())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// fileConfig is the on-disk form: durations are written as Go duration strings.
type fileConfig struct {
	Name                  string                  `toml:"name"`
	PaddingByte           *byte                   `toml:"padding_byte,omitempty"`
	TxDataLength          int                     `toml:"tx_data_length"`
	MaxConcurrentChannels int                     `toml:"max_concurrent_channels"`
	MaxMessageSize        int                     `toml:"max_message_size"`
	TimeoutN_As           string                  `toml:"timeout_n_as"`
	TimeoutN_Bs           string                  `toml:"timeout_n_bs"`
	TimeoutN_Cs           string                  `toml:"timeout_n_cs"`
	TimeoutN_Br           string                  `toml:"timeout_n_br"`
	TimeoutN_Cr           string                  `toml:"timeout_n_cr"`
	BlockSize             int                     `toml:"block_size"`
	SeparationTime        string                  `toml:"separation_time"`
	MinTxSeparationTime   string                  `toml:"min_tx_separation_time"`
	MaxWaitFrames         int                     `toml:"max_wait_frames"`
	Connections           []addressing.Connection `toml:"connections,omitempty"`
}

// SaveConfig writes c as TOML so that LoadConfig reads it back unchanged.
func SaveConfig(path string, c Config) error {
	if err := c.Validate(); err != nil {
		return err
	}
	out, err := toml.Marshal(fileConfig{
		Name:                  c.Name,
		PaddingByte:           c.PaddingByte,
		TxDataLength:          c.TxDataLength,
		MaxConcurrentChannels: c.MaxConcurrentChannels,
		MaxMessageSize:        c.MaxMessageSize,
		TimeoutN_As:           c.TimeoutN_As.String(),
		TimeoutN_Bs:           c.TimeoutN_Bs.String(),
		TimeoutN_Cs:           c.TimeoutN_Cs.String(),
		TimeoutN_Br:           c.TimeoutN_Br.String(),
		TimeoutN_Cr:           c.TimeoutN_Cr.String(),
		BlockSize:             c.BlockSize,
		SeparationTime:        c.SeparationTime.String(),
		MinTxSeparationTime:   c.MinTxSeparationTime.String(),
		MaxWaitFrames:         c.MaxWaitFrames,
		Connections:           c.Connections,
	})
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}
