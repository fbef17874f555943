package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/cuemby/natfailover/pkg/types"
	"github.com/joho/godotenv"
	"github.com/vrischmann/envconfig"
	"gopkg.in/yaml.v3"
)

// envOverrides lists the environment variables that override the pair
// document. Unset variables leave the file value untouched.
type envOverrides struct {
	Node           string   `envconfig:"NATFAILOVER_NODE"`
	Region         string   `envconfig:"NATFAILOVER_REGION"`
	Endpoint       string   `envconfig:"NATFAILOVER_EC2_ENDPOINT"`
	ProbeKind      string   `envconfig:"NATFAILOVER_PROBE_KIND"`
	ProbePort      int      `envconfig:"NATFAILOVER_PROBE_PORT"`
	PingCount      int      `envconfig:"NATFAILOVER_PING_COUNT"`
	PingTimeout    Duration `envconfig:"NATFAILOVER_PING_TIMEOUT"`
	PingInterval   Duration `envconfig:"NATFAILOVER_PING_INTERVAL"`
	StopSettle     Duration `envconfig:"NATFAILOVER_STOP_SETTLE"`
	StartSettle    Duration `envconfig:"NATFAILOVER_START_SETTLE"`
	RecoveryWindow Duration `envconfig:"NATFAILOVER_RECOVERY_WINDOW"`
	RestartPeer    string   `envconfig:"NATFAILOVER_RESTART_PEER"`
	StatusAddr     string   `envconfig:"NATFAILOVER_STATUS_ADDR"`
	DataDir        string   `envconfig:"NATFAILOVER_DATA_DIR"`
	LogLevel       string   `envconfig:"NATFAILOVER_LOG_LEVEL"`
}

// LoadOptions controls where configuration is read from
type LoadOptions struct {
	// Path of the YAML pair document
	Path string

	// EnvFile is an optional dotenv file loaded before the environment is
	// read. Variables already set in the environment win.
	EnvFile string

	// Node overrides the node identity from file and environment
	Node types.Identity
}

// LoadPair reads the pair document and applies environment overrides. It
// does not resolve or validate a node configuration.
func LoadPair(opts LoadOptions) (*Pair, error) {
	var pair Pair

	if opts.Path != "" {
		data, err := os.ReadFile(opts.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &pair); err != nil {
			return nil, fmt.Errorf("%w: failed to parse %s: %w", ErrInvalidConfig, opts.Path, err)
		}
	}

	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil {
			return nil, fmt.Errorf("failed to load env file %s: %w", opts.EnvFile, err)
		}
	}

	if err := applyEnv(&pair); err != nil {
		return nil, err
	}

	if opts.Node != "" {
		pair.Node = opts.Node
	}
	return &pair, nil
}

// Load reads the pair document and resolves the configuration of the node
// selected by opts, the file or NATFAILOVER_NODE.
func Load(opts LoadOptions) (*FailoverConfig, error) {
	pair, err := LoadPair(opts)
	if err != nil {
		return nil, err
	}
	return pair.ForNode(pair.Node)
}

func applyEnv(pair *Pair) error {
	var env envOverrides
	if err := envconfig.InitWithOptions(&env, envconfig.Options{AllOptional: true}); err != nil {
		return fmt.Errorf("%w: failed to read environment: %w", ErrInvalidConfig, err)
	}

	if env.Node != "" {
		pair.Node = types.Identity(env.Node)
	}
	if env.Region != "" {
		pair.Region = env.Region
	}
	if env.Endpoint != "" {
		pair.Endpoint = env.Endpoint
	}
	if env.ProbeKind != "" {
		pair.Probe.Kind = ProbeKind(env.ProbeKind)
	}
	if env.ProbePort != 0 {
		pair.Probe.Port = env.ProbePort
	}
	if env.PingCount != 0 {
		pair.PingCount = env.PingCount
	}
	if env.PingTimeout != 0 {
		pair.PingTimeout = env.PingTimeout
	}
	if env.PingInterval != 0 {
		pair.PingInterval = env.PingInterval
	}
	if env.StopSettle != 0 {
		pair.StopSettle = env.StopSettle
	}
	if env.StartSettle != 0 {
		pair.StartSettle = env.StartSettle
	}
	if env.RecoveryWindow != 0 {
		pair.RecoveryWindow = env.RecoveryWindow
	}
	if env.RestartPeer != "" {
		restart, err := strconv.ParseBool(env.RestartPeer)
		if err != nil {
			return fmt.Errorf("%w: NATFAILOVER_RESTART_PEER: %w", ErrInvalidConfig, err)
		}
		pair.RestartPeer = &restart
	}
	if env.StatusAddr != "" {
		pair.StatusAddr = env.StatusAddr
	}
	if env.DataDir != "" {
		pair.DataDir = env.DataDir
	}
	if env.LogLevel != "" {
		pair.Log.Level = env.LogLevel
	}
	return nil
}
