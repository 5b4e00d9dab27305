package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/johnny-rice/fw24"
	"gopkg.in/yaml.v3"
)

type CLI struct {
	Env string `name:"env" default:"dev" help:"Environment name; reads .env.<env> when present"`

	Describe DescribeCmd `cmd:"" help:"Print the per-operation input and output schema of an entity"`
	Get      GetCmd      `cmd:"" help:"Get one record by its primary identifiers"`
	List     ListCmd     `cmd:"" help:"List records of an entity"`
	Query    QueryCmd    `cmd:"" help:"Query records of an entity by access pattern"`
	Put      PutCmd      `cmd:"" help:"Create a record"`
	Update   UpdateCmd   `cmd:"" help:"Update a record"`
	Delete   DeleteCmd   `cmd:"" help:"Delete a record"`
	Seed     SeedCmd     `cmd:"" help:"Load a JSON:API document into the store"`
}

type DescribeCmd struct {
	Entity string `arg:"" help:"Entity name"`
}

type GetCmd struct {
	Entity     string            `arg:"" help:"Entity name"`
	ID         map[string]string `name:"id" required:"" help:"Identifier attribute (repeatable, name=value)"`
	Attributes []string          `name:"attributes" short:"a" sep:"," help:"Attribute paths to return, e.g. customer.name"`
}

type ListCmd struct {
	Entity           string   `arg:"" help:"Entity name"`
	Attributes       []string `name:"attributes" short:"a" sep:"," help:"Attribute paths to return"`
	Search           []string `name:"search" short:"s" help:"Search terms"`
	SearchAttributes []string `name:"search-attributes" sep:"," help:"Attributes searched (default: searchable attributes)"`
	Filters          []string `name:"filter" short:"f" help:"Filter as attribute:operator:value (repeatable)"`
	Limit            int      `name:"limit" help:"Maximum number of records"`
	Cursor           string   `name:"cursor" help:"Cursor from a previous page"`
	Desc             bool     `name:"desc" help:"Sort descending"`
}

type QueryCmd struct {
	ListCmd `embed:""`
	Pattern string            `name:"pattern" short:"p" help:"Access pattern (default: primary)"`
	ID      map[string]string `name:"id" help:"Key attribute (repeatable, name=value)"`
}

type PutCmd struct {
	Entity string `arg:"" help:"Entity name"`
	Data   string `name:"data" short:"d" required:"" help:"JSON object, or @path to read it from a file"`
}

type UpdateCmd struct {
	Entity string            `arg:"" help:"Entity name"`
	ID     map[string]string `name:"id" required:"" help:"Identifier attribute (repeatable, name=value)"`
	Data   string            `name:"data" short:"d" required:"" help:"JSON object, or @path to read it from a file"`
}

type DeleteCmd struct {
	Entity string            `arg:"" help:"Entity name"`
	ID     map[string]string `name:"id" required:"" help:"Identifier attribute (repeatable, name=value)"`
}

type SeedCmd struct {
	File string `arg:"" type:"existingfile" help:"JSON:API document (array of resources)"`
}

type kongExitCode int

type commandDeps struct {
	openApp func(ctx context.Context, env string) (*app, error)
	out     io.Writer
	errOut  io.Writer
}

func main() {
	os.Exit(run(os.Args[1:], defaultDeps()))
}

func defaultDeps() commandDeps {
	return commandDeps{
		openApp: openApp,
		out:     os.Stdout,
		errOut:  os.Stderr,
	}
}

func run(args []string, deps commandDeps) (exitCode int) {
	out := deps.out
	if out == nil {
		out = os.Stdout
	}
	errOut := deps.errOut
	if errOut == nil {
		errOut = os.Stderr
	}
	open := deps.openApp
	if open == nil {
		open = openApp
	}
	cli := CLI{}
	parser, err := kong.New(
		&cli,
		kong.Name("fw24ctl"),
		kong.Description("Inspect and edit entity records."),
		kong.Writers(out, errOut),
		kong.Exit(func(code int) {
			panic(kongExitCode(code))
		}),
	)
	if err != nil {
		_, _ = fmt.Fprintf(errOut, "Error: initialize command parser: %v\n", err)
		return 1
	}
	defer func() {
		recovered := recover()
		if recovered == nil {
			return
		}
		code, ok := recovered.(kongExitCode)
		if !ok {
			panic(recovered)
		}
		exitCode = int(code)
	}()
	kctx, err := parser.Parse(args)
	if err != nil {
		_, _ = fmt.Fprintf(errOut, "Error: %v\n", err)
		_, _ = fmt.Fprintln(errOut, "Hint: run `fw24ctl --help`.")
		return 1
	}

	ctx := context.Background()
	a, err := open(ctx, cli.Env)
	if err != nil {
		_, _ = fmt.Fprintf(errOut, "Error: %v\n", err)
		_, _ = fmt.Fprintln(errOut, "Hint: check STORE_DRIVER, SCHEMA_PATH and the .env file for the environment.")
		return 1
	}
	defer a.Close()

	command := strings.Fields(kctx.Command())[0]
	var result any
	switch command {
	case "describe":
		err = runDescribe(cli.Describe, a, out)
	case "get":
		result, err = runGet(ctx, cli.Get, a)
	case "list":
		result, err = runList(ctx, cli.List, a)
	case "query":
		result, err = runQuery(ctx, cli.Query, a)
	case "put":
		result, err = runPut(ctx, cli.Put, a)
	case "update":
		result, err = runUpdate(ctx, cli.Update, a)
	case "delete":
		result, err = runDelete(ctx, cli.Delete, a)
	case "seed":
		result, err = runSeed(ctx, cli.Seed, a)
	default:
		_, _ = fmt.Fprintf(errOut, "Error: unsupported command: %s\n", kctx.Command())
		_, _ = fmt.Fprintln(errOut, "Hint: run `fw24ctl --help`.")
		return 1
	}
	if err != nil {
		_, _ = fmt.Fprintf(errOut, "Error: %v\n", err)
		if hint := hintForError(err); hint != "" {
			_, _ = fmt.Fprintf(errOut, "Hint: %s\n", hint)
		}
		return 1
	}
	if result != nil {
		if err := writeJSON(out, result); err != nil {
			_, _ = fmt.Fprintf(errOut, "Error: %v\n", err)
			return 1
		}
	}
	return 0
}

func hintForError(err error) string {
	switch {
	case errors.Is(err, fw24.ErrItemNotFound):
		return "check the --id values against the entity's primary key."
	case errors.Is(err, fw24.ErrItemExists):
		return "use `fw24ctl update` to change an existing record."
	case errors.Is(err, fw24.ErrValidation):
		return "run `fw24ctl describe <entity>` for the expected attributes."
	case errors.Is(err, fw24.ErrInvalidArgument):
		return "run `fw24ctl describe <entity>` for identifiers and access patterns."
	}
	return ""
}

func runDescribe(cmd DescribeCmd, a *app, out io.Writer) error {
	svc, err := a.service(cmd.Entity)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	defer enc.Close()
	if err := enc.Encode(svc.OpsSchema()); err != nil {
		return fmt.Errorf("failed to encode schema: %w", err)
	}
	return nil
}

func runGet(ctx context.Context, cmd GetCmd, a *app) (any, error) {
	svc, err := a.service(cmd.Entity)
	if err != nil {
		return nil, err
	}
	res, err := svc.Get(ctx, fw24.GetInput{Identifiers: identifiers(cmd.ID), Attributes: cmd.Attributes})
	if err != nil {
		return nil, err
	}
	return res.Record, nil
}

func runList(ctx context.Context, cmd ListCmd, a *app) (any, error) {
	svc, err := a.service(cmd.Entity)
	if err != nil {
		return nil, err
	}
	q, err := cmd.query()
	if err != nil {
		return nil, err
	}
	res, err := svc.List(ctx, q)
	if err != nil {
		return nil, err
	}
	return page(res), nil
}

func runQuery(ctx context.Context, cmd QueryCmd, a *app) (any, error) {
	svc, err := a.service(cmd.Entity)
	if err != nil {
		return nil, err
	}
	q, err := cmd.query()
	if err != nil {
		return nil, err
	}
	q.AccessPattern = cmd.Pattern
	q.Identifiers = identifiers(cmd.ID)
	res, err := svc.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	return page(res), nil
}

func runPut(ctx context.Context, cmd PutCmd, a *app) (any, error) {
	svc, err := a.service(cmd.Entity)
	if err != nil {
		return nil, err
	}
	data, err := readData(cmd.Data)
	if err != nil {
		return nil, err
	}
	res, err := svc.Create(ctx, fw24.CreateInput{Data: data})
	if err != nil {
		return nil, err
	}
	return res.Record, nil
}

func runUpdate(ctx context.Context, cmd UpdateCmd, a *app) (any, error) {
	svc, err := a.service(cmd.Entity)
	if err != nil {
		return nil, err
	}
	data, err := readData(cmd.Data)
	if err != nil {
		return nil, err
	}
	res, err := svc.Update(ctx, fw24.UpdateInput{Identifiers: identifiers(cmd.ID), Data: data})
	if err != nil {
		return nil, err
	}
	return res.Record, nil
}

func runDelete(ctx context.Context, cmd DeleteCmd, a *app) (any, error) {
	svc, err := a.service(cmd.Entity)
	if err != nil {
		return nil, err
	}
	res, err := svc.Delete(ctx, fw24.DeleteInput{Identifiers: identifiers(cmd.ID)})
	if err != nil {
		return nil, err
	}
	return res.Record, nil
}

func runSeed(ctx context.Context, cmd SeedCmd, a *app) (any, error) {
	f, err := os.Open(cmd.File)
	if err != nil {
		return nil, fmt.Errorf("failed to open seed file: %w", err)
	}
	defer f.Close()
	count, err := fw24.NewSeeder(a.store, a.registry, a.logger).SeedFromJSON(ctx, f)
	if err != nil {
		return nil, err
	}
	return map[string]int{"seeded": count}, nil
}

func (cmd ListCmd) query() (fw24.ListQuery, error) {
	filters := make([]fw24.FilterGroup, 0, len(cmd.Filters))
	for _, raw := range cmd.Filters {
		f, err := parseFilter(raw)
		if err != nil {
			return fw24.ListQuery{}, err
		}
		filters = append(filters, fw24.FilterGroup{Logic: fw24.LogicAnd, Filters: []fw24.Filter{f}})
	}
	return fw24.ListQuery{
		Attributes:       cmd.Attributes,
		Search:           cmd.Search,
		SearchAttributes: cmd.SearchAttributes,
		Filters:          fw24.MergeFilterGroups(filters...),
		Limit:            cmd.Limit,
		Cursor:           cmd.Cursor,
		SortDescending:   cmd.Desc,
	}, nil
}

// parseFilter reads attribute:operator[:value]. The value is decoded as
// JSON when possible so numbers and booleans compare as such.
func parseFilter(raw string) (fw24.Filter, error) {
	parts := strings.SplitN(raw, ":", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return fw24.Filter{}, fmt.Errorf("%w: filter %q must be attribute:operator:value", fw24.ErrInvalidArgument, raw)
	}
	f := fw24.Filter{Attribute: parts[0], Operator: fw24.FilterOperator(parts[1])}
	if len(parts) == 3 {
		f.Value = scalar(parts[2])
	}
	return f, nil
}

func scalar(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v
	}
	return s
}

func identifiers(m map[string]string) fw24.Record {
	ids := make(fw24.Record, len(m))
	for k, v := range m {
		ids[k] = v
	}
	return ids
}

func readData(arg string) (fw24.Record, error) {
	raw := []byte(arg)
	if path, ok := strings.CutPrefix(arg, "@"); ok {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read data file: %w", err)
		}
		raw = b
	}
	var data fw24.Record
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("%w: data must be a JSON object: %v", fw24.ErrInvalidArgument, err)
	}
	return data, nil
}

type pageResult struct {
	Records []fw24.Record `json:"records"`
	Cursor  string        `json:"cursor,omitempty"`
}

func page(res *fw24.ListOutput) pageResult {
	return pageResult{Records: res.Records, Cursor: res.Cursor}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}
