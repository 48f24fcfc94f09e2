package config

import (
	"errors"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	Server      struct {
		Port            string `env:"PORT" envDefault:"3000"`
		ReadTimeout     int    `env:"READ_TIMEOUT" envDefault:"10"`
		WriteTimeout    int    `env:"WRITE_TIMEOUT" envDefault:"35"`
		IdleTimeout     int    `env:"IDLE_TIMEOUT" envDefault:"60"`
		ShutdownTimeout int    `env:"SHUTDOWN_TIMEOUT" envDefault:"10"`
		RequestTimeout  int    `env:"REQUEST_TIMEOUT" envDefault:"30"`
	} `envPrefix:"SERVER_"`
	Database struct {
		DSN                string `env:"DSN,required"`
		ConnectTimeout     int    `env:"CONNECT_TIMEOUT" envDefault:"10"`
		QueryTimeout       int    `env:"QUERY_TIMEOUT" envDefault:"10"`
		TransactionTimeout int    `env:"TRANSACTION_TIMEOUT" envDefault:"20"`
		MaxOpenConns       int    `env:"MAX_OPEN_CONNS" envDefault:"10"`
		MaxIdleConns       int    `env:"MAX_IDLE_CONNS" envDefault:"10"`
		MaxIdleTime        int    `env:"MAX_IDLE_TIME" envDefault:"60"`
	} `envPrefix:"DATABASE_"`
	JWT struct {
		Secret     string `env:"SECRET,required"`
		CookieName string `env:"COOKIE_NAME" envDefault:"__shift_attendance_token"`
	} `envPrefix:"JWT_"`
	Email struct {
		SMTP struct {
			Username    string `env:"USERNAME"`
			Password    string `env:"PASSWORD"`
			Host        string `env:"HOST"`
			Port        int    `env:"PORT" envDefault:"465"`
			DialTimeout int    `env:"DIAL_TIMEOUT" envDefault:"10"`
		} `envPrefix:"SMTP_"`
	} `envPrefix:"EMAIL_"`
	SMS struct {
		GatewayURL string `env:"GATEWAY_URL"`
		APIKey     string `env:"API_KEY"`
		Sender     string `env:"SENDER" envDefault:"SHIFTS"`
		Timeout    int    `env:"TIMEOUT" envDefault:"10"`
	} `envPrefix:"SMS_"`
	RabbitMQ struct {
		DSN            string `env:"DSN,required"`
		Queue          string `env:"QUEUE" envDefault:"notification_queue"`
		PublishTimeout int    `env:"PUBLISH_TIMEOUT" envDefault:"10"`
		PublishBuffer  int    `env:"PUBLISH_BUFFER" envDefault:"1024"` // 待投递通知的缓冲条数
	} `envPrefix:"RABBITMQ_"`
	Redis struct {
		Host           string `env:"HOST" envDefault:"localhost"`
		Port           int    `env:"PORT" envDefault:"6379"`
		Password       string `env:"PASSWORD"`
		ConnectTimeout int    `env:"CONNECT_TIMEOUT" envDefault:"10"`
	} `envPrefix:"REDIS_"`
	Clock struct {
		ReplayWindow         int `env:"REPLAY_WINDOW" envDefault:"300"`          // 秒
		MaxAccuracy          int `env:"MAX_ACCURACY" envDefault:"200"`           // 米
		ClockInBufferMinutes int `env:"CLOCK_IN_BUFFER_MINUTES" envDefault:"30"` // 组织未配置时的默认值
		GraceMinutes         int `env:"GRACE_MINUTES" envDefault:"5"`
	} `envPrefix:"CLOCK_"`
	Tracking struct {
		WindowMinutes   int `env:"WINDOW_MINUTES" envDefault:"60"`
		ThrottleMinutes int `env:"THROTTLE_MINUTES" envDefault:"10"`
		RetentionDays   int `env:"RETENTION_DAYS" envDefault:"90"`
	} `envPrefix:"TRACKING_"`
	Correction struct {
		EscalateAfterHours    int `env:"ESCALATE_AFTER_HOURS" envDefault:"72"`
		AutoApproveAfterHours int `env:"AUTO_APPROVE_AFTER_HOURS" envDefault:"48"`
	} `envPrefix:"CORRECTION_"`
	Sweeper struct {
		Interval int `env:"INTERVAL" envDefault:"300"` // 秒
		LeaseTTL int `env:"LEASE_TTL" envDefault:"240"`
	} `envPrefix:"SWEEPER_"`
}

func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		aggErr := env.AggregateError{}
		if ok := errors.As(err, &aggErr); ok {
			// 只返回第一个错误使得日志更清晰
			return nil, aggErr.Errors[0]
		}
		return nil, err
	}

	return cfg, nil
}
