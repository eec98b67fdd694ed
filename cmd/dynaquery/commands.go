package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/cobra"

	"github.com/pay-theory/dynaquery"
	"github.com/pay-theory/dynaquery/pkg/core"
	"github.com/pay-theory/dynaquery/pkg/schema"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dynaquery",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "dynaquery %s\n", version)
		},
	}
}

func (c *cli) createTableCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create-table",
		Short: "Create a table from its YAML definition",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			t, err := c.tableConfig(c.v.GetString("table"))
			if err != nil {
				return err
			}
			cl, err := c.connect(ctx)
			if err != nil {
				return err
			}
			if err := schema.NewManager(cl.tables, schema.WithLogger(c.logger)).CreateTable(ctx, t); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "table %s ready\n", t.Name)
			return nil
		},
	}
	cmd.Flags().String("table", "", "table to create")
	return cmd
}

func (c *cli) loadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Batch-write a JSON array of items into a table",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			items, err := readItems(c.v.GetString("file"))
			if err != nil {
				return err
			}
			client, err := c.client(ctx, c.v.GetString("table"))
			if err != nil {
				return err
			}

			res, err := client.BatchWrite(ctx, items)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "loaded %d items, %d unprocessed\n", len(items)-len(res.Unprocessed), len(res.Unprocessed))
			return nil
		},
	}
	cmd.Flags().String("table", "", "target table")
	cmd.Flags().String("file", "", "JSON file holding an array of items")
	return cmd
}

func (c *cli) queryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Run a filter document against a table",
		Example: `  dynaquery query --table t_example_app_hour \
    --filter '{"app":"weixin_msg","hour":{"$gte":2018102000,"$lte":2018102005}}' \
    --sort hour:-1 --limit 10`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			doc, err := parseFilter(c.v.GetString("filter"))
			if err != nil {
				return err
			}
			sort, err := parseSort(c.v.GetString("sort"))
			if err != nil {
				return err
			}
			fields := parseFields(c.v.GetString("fields"))
			opts := dynaquery.QueryOptions{
				Sort:   sort,
				Limit:  c.v.GetInt32("limit"),
				Cursor: c.v.GetString("cursor"),
			}

			client, err := c.client(ctx, c.v.GetString("table"))
			if err != nil {
				return err
			}

			switch {
			case c.v.GetBool("explain"):
				plan, err := client.Compile(doc, fields, opts)
				if err != nil {
					return err
				}
				view, err := explain(plan)
				if err != nil {
					return err
				}
				return writeJSON(c.out, view)
			case c.v.GetBool("all"):
				items, err := client.QueryAll(ctx, doc, fields, opts)
				if err != nil {
					return err
				}
				return writeJSON(c.out, map[string]any{"items": items, "count": len(items)})
			default:
				page, err := client.Query(ctx, doc, fields, opts)
				if err != nil {
					return err
				}
				return writeJSON(c.out, page)
			}
		},
	}

	f := cmd.Flags()
	f.String("table", "", "table to query")
	f.String("filter", "{}", "filter document as JSON")
	f.String("fields", "", "comma-separated attributes to return")
	f.String("sort", "", "sort spec as field:1 or field:-1")
	f.Int32("limit", 0, "items evaluated per page")
	f.String("cursor", "", "lastKey token from a previous page")
	f.Bool("all", false, "follow the cursor until the query is exhausted")
	f.Bool("explain", false, "print the compiled plan instead of running it")
	return cmd
}

func (c *cli) exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Run a query to exhaustion and upload the items to S3 as JSON lines",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			bucket, key := c.v.GetString("bucket"), c.v.GetString("key")
			if bucket == "" || key == "" {
				return fmt.Errorf("--bucket and --key are required")
			}
			doc, err := parseFilter(c.v.GetString("filter"))
			if err != nil {
				return err
			}

			client, err := c.client(ctx, c.v.GetString("table"))
			if err != nil {
				return err
			}

			var buf bytes.Buffer
			enc := json.NewEncoder(&buf)
			count := 0
			err = client.Each(ctx, doc, parseFields(c.v.GetString("fields")), dynaquery.QueryOptions{}, func(item map[string]any) error {
				count++
				return enc.Encode(item)
			})
			if err != nil {
				return err
			}

			cl, err := c.connect(ctx)
			if err != nil {
				return err
			}
			if _, err := cl.objects.PutObject(ctx, &s3.PutObjectInput{
				Bucket:      aws.String(bucket),
				Key:         aws.String(key),
				Body:        bytes.NewReader(buf.Bytes()),
				ContentType: aws.String("application/x-ndjson"),
			}); err != nil {
				return fmt.Errorf("failed to upload s3://%s/%s: %w", bucket, key, err)
			}

			c.logger.Info("export finished", "bucket", bucket, "key", key, "items", count)
			fmt.Fprintf(c.out, "exported %d items to s3://%s/%s\n", count, bucket, key)
			return nil
		},
	}

	f := cmd.Flags()
	f.String("table", "", "table to export from")
	f.String("filter", "{}", "filter document as JSON")
	f.String("fields", "", "comma-separated attributes to export")
	f.String("bucket", "", "destination bucket")
	f.String("key", "", "destination object key")
	return cmd
}

// parseFilter decodes a JSON filter document keeping numbers exact
func parseFilter(s string) (map[string]any, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()

	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("invalid --filter: %w", err)
	}
	return doc, nil
}

// parseSort parses "hour:-1,app:1"; a bare field sorts ascending
func parseSort(s string) (map[string]int, error) {
	if s == "" {
		return nil, nil
	}
	out := make(map[string]int)
	for _, part := range strings.Split(s, ",") {
		field, dir, found := strings.Cut(strings.TrimSpace(part), ":")
		if field == "" {
			return nil, fmt.Errorf("invalid --sort %q", s)
		}
		out[field] = 1
		if !found {
			continue
		}
		n, err := strconv.Atoi(dir)
		if err != nil {
			return nil, fmt.Errorf("invalid --sort direction %q for %s", dir, field)
		}
		out[field] = n
	}
	return out, nil
}

func parseFields(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func readItems(path string) ([]map[string]any, error) {
	if path == "" {
		return nil, fmt.Errorf("--file is required")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.UseNumber()
	var items []map[string]any
	if err := dec.Decode(&items); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return items, nil
}

type planView struct {
	AccessPath      string            `json:"accessPath"`
	Table           string            `json:"table"`
	Index           string            `json:"index,omitempty"`
	KeyCondition    string            `json:"keyCondition,omitempty"`
	FilterCondition string            `json:"filterCondition,omitempty"`
	Projection      string            `json:"projection,omitempty"`
	Names           map[string]string `json:"names,omitempty"`
	Values          map[string]any    `json:"values,omitempty"`
	ScanForward     bool              `json:"scanForward"`
	Limit           int32             `json:"limit,omitempty"`
}

func explain(plan *core.QueryPlan) (planView, error) {
	view := planView{
		AccessPath:      plan.AccessPath.String(),
		Table:           plan.TableName,
		Index:           plan.IndexName,
		KeyCondition:    plan.KeyCondition,
		FilterCondition: plan.FilterCondition,
		Projection:      plan.Projection,
		Names:           plan.Names,
		ScanForward:     plan.ScanForward,
		Limit:           aws.ToInt32(plan.Limit),
	}
	if len(plan.Values) > 0 {
		if err := attributevalue.UnmarshalMap(plan.Values, &view.Values); err != nil {
			return planView{}, fmt.Errorf("failed to decode plan values: %w", err)
		}
	}
	return view, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
