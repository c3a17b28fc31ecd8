package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/tqchen/yarn-ec2/pkg/types"
)

// Keys shared by flags, environment variables (YARN_EC2_<KEY>) and the config file
const (
	Cluster          = "cluster"
	Region           = "region"
	Zone             = "zone"
	KeyPair          = "key-pair"
	InstanceClass    = "instance-class"
	DesiredCount     = "desired-count"
	MinRatio         = "min-ratio"
	MaxRatio         = "max-ratio"
	StaggerDelay     = "stagger-delay"
	PollInterval     = "poll-interval"
	PriceWindow      = "price-window"
	CallTimeout      = "call-timeout"
	RateLimit        = "rate-limit"
	RateBurst        = "rate-burst"
	UserDataTemplate = "user-data-template"
	CatalogPath      = "catalog"
	AMIHVM           = "ami-hvm"
	AMIPVM           = "ami-pvm"
	EBSVolumeSize    = "ebs-volume-size"
	APIEnabled       = "api-enabled"
	APIPort          = "api-port"
	Prometheus       = "prometheus"
	LogLevel         = "log-level"
	LogFormat        = "log-format"
	LogFile          = "log-file"
)

const envPrefix = "yarn_ec2"

// Config is the controller process configuration
type Config struct {
	Cluster       string  `mapstructure:"cluster" validate:"required"`
	Region        string  `mapstructure:"region" validate:"required"`
	Zone          string  `mapstructure:"zone"`
	KeyPair       string  `mapstructure:"key-pair" validate:"required"`
	InstanceClass string  `mapstructure:"instance-class" validate:"required"`
	DesiredCount  int     `mapstructure:"desired-count" validate:"gt=0"`
	MinRatio      float64 `mapstructure:"min-ratio" validate:"gt=0,ltefield=MaxRatio"`
	MaxRatio      float64 `mapstructure:"max-ratio" validate:"gt=0"`

	StaggerDelay time.Duration `mapstructure:"stagger-delay" validate:"min=0"`
	PollInterval time.Duration `mapstructure:"poll-interval" validate:"gt=0"`
	PriceWindow  time.Duration `mapstructure:"price-window" validate:"gt=0"`
	CallTimeout  time.Duration `mapstructure:"call-timeout" validate:"gt=0"`
	RateLimit    float64       `mapstructure:"rate-limit" validate:"gt=0"`
	RateBurst    int           `mapstructure:"rate-burst" validate:"gt=0"`

	UserDataTemplate string `mapstructure:"user-data-template" validate:"required"`
	CatalogPath      string `mapstructure:"catalog"`
	AMIHVM           string `mapstructure:"ami-hvm"`
	AMIPVM           string `mapstructure:"ami-pvm"`
	EBSVolumeSize    int    `mapstructure:"ebs-volume-size" validate:"min=0"`

	APIEnabled bool `mapstructure:"api-enabled"`
	APIPort    int  `mapstructure:"api-port" validate:"min=1,max=65535"`
	Prometheus bool `mapstructure:"prometheus"`

	LogLevel  string `mapstructure:"log-level" validate:"oneof=trace debug info warn warning error"`
	LogFormat string `mapstructure:"log-format" validate:"oneof=text json"`
	LogFile   string `mapstructure:"log-file"`
}

// RegisterFlags defines every configuration flag with its default
func RegisterFlags(flags *pflag.FlagSet) {
	// Cluster
	flags.String(Cluster, "", "cluster name, used to find the <cluster>-master and <cluster>-slave security groups")
	flags.String(Region, "us-west-2", "AWS region")
	flags.String(Zone, "", "availability zone workers are placed in (defaults to the master's zone)")
	flags.String(KeyPair, "", "EC2 key pair installed on workers")
	flags.String(InstanceClass, "", "worker instance class")
	flags.Int(DesiredCount, 0, "number of workers to maintain")

	// Bidding
	flags.Float64(MinRatio, 0.5, "lowest spot bid as a fraction of the list price")
	flags.Float64(MaxRatio, 0.9, "highest spot bid as a fraction of the list price")
	flags.Duration(StaggerDelay, 20*time.Second, "pause between successive spot bids")

	// Loop
	flags.Duration(PollInterval, 10*time.Second, "reconciliation interval")
	flags.Duration(PriceWindow, 10*time.Minute, "spot price history fetched on each tick")
	flags.Duration(CallTimeout, 30*time.Second, "timeout of a single cloud call")
	flags.Float64(RateLimit, 5, "cloud calls per second")
	flags.Int(RateBurst, 10, "cloud call burst")

	// Launch
	flags.String(UserDataTemplate, "", "bootstrap template path or s3://bucket/key")
	flags.String(CatalogPath, "", "instance catalog YAML (built-in when empty)")
	flags.String(AMIHVM, "", "override the hvm image")
	flags.String(AMIPVM, "", "override the pvm image")
	flags.Int(EBSVolumeSize, 0, "size in GiB of an extra EBS volume attached at /dev/sdv (0 disables)")

	// Observability
	flags.Bool(APIEnabled, true, "serve the status API")
	flags.Int(APIPort, 8080, "status API port")
	flags.Bool(Prometheus, true, "expose prometheus metrics on the status API")
	flags.String(LogLevel, "info", "minimum log level")
	flags.String(LogFormat, "text", "log format (text, json)")
	flags.String(LogFile, "", "also append log entries to this file")
}

// Load builds the configuration from flags, YARN_EC2_* environment variables and an optional
// YAML file, in decreasing precedence, then validates it.
func Load(v *viper.Viper, flags *pflag.FlagSet, configFile string) (*Config, error) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(flags); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s: %w", strings.Join(fields, ", "), err)
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	return nil
}

// Target returns the worker pool target described by the configuration
func (c *Config) Target() types.ClusterTarget {
	return types.ClusterTarget{
		DesiredCount:  c.DesiredCount,
		InstanceClass: c.InstanceClass,
		MinRatio:      c.MinRatio,
		MaxRatio:      c.MaxRatio,
		StaggerDelay:  c.StaggerDelay,
	}
}
