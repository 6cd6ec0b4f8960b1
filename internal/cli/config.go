package cli

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	redisserver "github.com/raniellyferreira/redis-inmemory-server"
)

// HostPort is a master address given on the command line
type HostPort struct {
	Host string
	Port int
}

// String implements fmt.Stringer
func (hp HostPort) String() string {
	return net.JoinHostPort(hp.Host, strconv.Itoa(hp.Port))
}

// Config is the resolved configuration of one server process
type Config struct {
	ListenPort      int
	Bind            string
	MasterAddress   *HostPort
	SnapshotDir     string
	SnapshotFile    string
	ReplicaReadOnly bool
	LogLevel        string
	MetricsAddr     string
}

// ParseReplicaOf accepts "host port", "host:port", or a bare host whose port
// comes from the first positional argument. An empty value means no master.
func ParseReplicaOf(value string, args []string) (*HostPort, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		if len(args) > 0 {
			return nil, fmt.Errorf("unexpected argument %q", args[0])
		}
		return nil, nil
	}

	var host, port string
	if fields := strings.Fields(value); len(fields) == 2 {
		host, port = fields[0], fields[1]
	} else if len(fields) > 2 {
		return nil, fmt.Errorf("invalid --replicaof %q (expected \"host port\")", value)
	} else if h, p, err := net.SplitHostPort(value); err == nil {
		host, port = h, p
	} else if len(args) > 0 {
		host, port = value, args[0]
	} else {
		return nil, fmt.Errorf("invalid --replicaof %q: missing port", value)
	}

	n, err := strconv.Atoi(port)
	if err != nil || n <= 0 || n > 65535 {
		return nil, fmt.Errorf("invalid master port %q", port)
	}
	if host == "" {
		return nil, fmt.Errorf("invalid --replicaof %q: missing host", value)
	}
	return &HostPort{Host: host, Port: n}, nil
}

// Resolve reads the configuration from v, which holds the bound flags, the
// REDIS_ environment and the optional config file.
func Resolve(v *viper.Viper, args []string) (*Config, error) {
	cfg := &Config{
		ListenPort:      v.GetInt("port"),
		Bind:            v.GetString("bind"),
		SnapshotDir:     v.GetString("dir"),
		SnapshotFile:    v.GetString("dbfilename"),
		ReplicaReadOnly: v.GetBool("replica-read-only"),
		LogLevel:        v.GetString("log-level"),
		MetricsAddr:     v.GetString("metrics-addr"),
	}

	if cfg.ListenPort < 0 || cfg.ListenPort > 65535 {
		return nil, fmt.Errorf("invalid port %d", cfg.ListenPort)
	}
	if cfg.SnapshotDir == "" {
		return nil, fmt.Errorf("--dir must not be empty")
	}
	if cfg.SnapshotFile == "" {
		return nil, fmt.Errorf("--dbfilename must not be empty")
	}

	master, err := ParseReplicaOf(v.GetString("replicaof"), args)
	if err != nil {
		return nil, err
	}
	cfg.MasterAddress = master

	return cfg, nil
}

// Options converts the configuration into node options
func (c *Config) Options(logger *zap.Logger) []redisserver.Option {
	opts := []redisserver.Option{
		redisserver.WithPort(c.ListenPort),
		redisserver.WithBind(c.Bind),
		redisserver.WithDir(c.SnapshotDir),
		redisserver.WithDBFilename(c.SnapshotFile),
		redisserver.WithReplicaReadOnly(c.ReplicaReadOnly),
		redisserver.WithMetricsAddr(c.MetricsAddr),
		redisserver.WithLogger(logger),
	}
	if c.MasterAddress != nil {
		opts = append(opts, redisserver.WithReplicaOf(c.MasterAddress.String()))
	}
	return opts
}
