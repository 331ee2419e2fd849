package config

import (
	"github.com/spf13/viper"

	"github.com/jmoran/plazabot/internal/policy"
)

type Config struct {
	App struct {
		Env      string
		Timezone string
	} `mapstructure:"app"`

	Telegram struct {
		Token       string
		AdminChatID int64 `mapstructure:"admin_chat_id"`
	} `mapstructure:"telegram"`

	HTTP struct {
		Addr string
	} `mapstructure:"http"`

	Postgres struct {
		DSN string
	} `mapstructure:"postgres"`

	Metrics struct {
		Enabled bool
	} `mapstructure:"metrics"`

	Lottery struct {
		CutoffHour int `mapstructure:"cutoff_hour"`
		MonthlyCap int `mapstructure:"monthly_cap"` // 0 = sin tope mensual
	} `mapstructure:"lottery"`
}

func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("APP")
	v.AutomaticEnv()

	v.SetDefault("app.timezone", "Europe/Madrid")
	v.SetDefault("lottery.cutoff_hour", policy.CutoffHour)

	var c Config
	if err := v.ReadInConfig(); err != nil {
		return c, err
	}
	if err := v.Unmarshal(&c); err != nil {
		return c, err
	}
	return c, nil
}
