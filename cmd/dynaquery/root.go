package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pay-theory/dynaquery"
	"github.com/pay-theory/dynaquery/pkg/config"
	"github.com/pay-theory/dynaquery/pkg/core"
	"github.com/pay-theory/dynaquery/pkg/log"
	"github.com/pay-theory/dynaquery/pkg/schema"
	"github.com/pay-theory/dynaquery/pkg/session"
)

const envPrefix = "dynaquery"

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type clients struct {
	store   core.StoreAPI
	tables  schema.TableAPI
	objects objectPutter
}

// newClients is replaced in tests
var newClients = func(ctx context.Context, cfg *session.Config) (*clients, error) {
	sess, err := session.NewSession(ctx, cfg)
	if err != nil {
		return nil, err
	}
	ddb, err := sess.Client()
	if err != nil {
		return nil, err
	}
	return &clients{
		store:   ddb,
		tables:  ddb,
		objects: s3.NewFromConfig(sess.AWSConfig()),
	}, nil
}

type cli struct {
	v       *viper.Viper
	out     io.Writer
	logger  log.ZapLogger
	clients *clients
}

func newRootCmd(out io.Writer) *cobra.Command {
	c := &cli{v: viper.New(), out: out, logger: log.NewNop()}

	root := &cobra.Command{
		Use:   "dynaquery",
		Short: "Query DynamoDB tables with filter documents",
		Long: `dynaquery compiles MongoDB-style filter documents into DynamoDB Query or
Scan requests, picking the most specific index for the filter.

Every flag can also be set as an environment variable DYNAQUERY_<FLAG>
(e.g. DYNAQUERY_ENDPOINT=http://localhost:8000); a .env file is read if present.`,
		SilenceUsage:      true,
		PersistentPreRunE: c.setup,
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = c.logger.Sync()
		},
	}

	pf := root.PersistentFlags()
	pf.String("region", "us-east-1", "AWS region")
	pf.String("endpoint", "", "DynamoDB endpoint override, e.g. http://localhost:8000")
	pf.Int("max-retries", session.DefaultMaxRetries, "maximum attempts per request")
	pf.String("assume-role-arn", "", "role to assume for every request")
	pf.String("config", "", "YAML table definitions; without it the key schema is read from the live table")
	pf.Bool("verbose", false, "enable debug logging")

	root.AddCommand(
		c.createTableCmd(),
		c.loadCmd(),
		c.queryCmd(),
		c.exportCmd(),
		versionCmd(),
	)
	return root
}

// setup loads .env, binds flags and environment into viper and builds the logger
func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	_ = godotenv.Load(".env")

	c.v.SetEnvPrefix(envPrefix)
	c.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	c.v.AutomaticEnv()
	if err := c.v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	for _, key := range credentialKeys {
		if err := c.v.BindEnv(key); err != nil {
			return err
		}
	}

	logger, err := log.New(c.v.GetBool("verbose"))
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	c.logger = logger
	return nil
}

// credentialKeys are read from the environment only, never from flags
var credentialKeys = []string{"access-key-id", "secret-access-key", "session-token"}

// sessionConfig decodes the bound flags and environment into a session config
func (c *cli) sessionConfig() (*session.Config, error) {
	cfg := session.DefaultConfig()
	if err := c.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode session settings: %w", err)
	}
	return cfg, nil
}

func (c *cli) connect(ctx context.Context) (*clients, error) {
	if c.clients != nil {
		return c.clients, nil
	}
	cfg, err := c.sessionConfig()
	if err != nil {
		return nil, err
	}
	cl, err := newClients(ctx, cfg)
	if err != nil {
		return nil, err
	}
	c.clients = cl
	return cl, nil
}

// tableConfig returns the named table from the --config file
func (c *cli) tableConfig(table string) (config.TableConfig, error) {
	path := c.v.GetString("config")
	if path == "" {
		return config.TableConfig{}, fmt.Errorf("--config is required")
	}
	f, err := config.Load(path)
	if err != nil {
		return config.TableConfig{}, err
	}
	return f.Table(table)
}

// topology reads the table's index layout from --config when given,
// otherwise from the live table
func (c *cli) topology(ctx context.Context, table string) (core.Topology, error) {
	if c.v.GetString("config") != "" {
		t, err := c.tableConfig(table)
		if err != nil {
			return core.Topology{}, err
		}
		return t.Topology(), nil
	}

	cl, err := c.connect(ctx)
	if err != nil {
		return core.Topology{}, err
	}
	return schema.NewManager(cl.tables, schema.WithLogger(c.logger)).DescribeTopology(ctx, table)
}

func (c *cli) client(ctx context.Context, table string) (*dynaquery.Client, error) {
	if table == "" {
		return nil, fmt.Errorf("--table is required")
	}
	topology, err := c.topology(ctx, table)
	if err != nil {
		return nil, err
	}
	cl, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	return dynaquery.New(cl.store, topology, dynaquery.WithLogger(c.logger))
}
