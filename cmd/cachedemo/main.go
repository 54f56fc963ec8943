// Command cachedemo exercises the reactive query cache end to end: it wires
// an in-memory KV backend, a synchronous querykv.Store, and an infinite
// query definition backed by an in-process fake dataset, then drives watch/
// fetch/paginate/refetch through the public query.Client surface the way a
// real application's view layer would.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/hanpama/reactivecache/internal/entity"
	"github.com/hanpama/reactivecache/internal/eventbus"
	"github.com/hanpama/reactivecache/internal/network"
	"github.com/hanpama/reactivecache/internal/querykv"
	"github.com/hanpama/reactivecache/internal/querylog"
	"github.com/hanpama/reactivecache/internal/reactive"
	"github.com/hanpama/reactivecache/internal/schema"
	"github.com/hanpama/reactivecache/internal/telemetry"
	"github.com/hanpama/reactivecache/query"
)

const rootUsage = `cachedemo — exercises the reactive query cache against an in-memory dataset

USAGE:
  cachedemo <command> [flags]

COMMANDS:
  run    Watch a paginated query, paginate it, then refetch it
  help   Show help for any command
`

const runUsage = `run FLAGS:
  -items <n>            Number of fake items in the dataset (default: 12)
  -page-size <n>        Items per page (default: 5)
  -stale <duration>     Query staleTime (default: 200ms)
  -otel.endpoint <addr> OTLP collector endpoint
  -otel.service <name>  OpenTelemetry service name (default: cachedemo)
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func run(args []string) error {
	global := flag.NewFlagSet("cachedemo", flag.ContinueOnError)
	global.SetOutput(new(bytes.Buffer))
	if err := global.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, rootUsage)
		return err
	}
	remaining := global.Args()
	if len(remaining) == 0 {
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("missing command")
	}

	switch remaining[0] {
	case "run":
		return cmdRun(remaining[1:])
	case "help":
		fmt.Print(rootUsage)
		return nil
	default:
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("unknown command %q", remaining[0])
	}
}

func cmdRun(args []string) error {
	items := 12
	pageSize := 5
	stale := 200 * time.Millisecond
	otelEndpoint := ""
	otelService := "cachedemo"

	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.IntVar(&items, "items", items, "Number of fake items in the dataset")
	fs.IntVar(&pageSize, "page-size", pageSize, "Items per page")
	fs.DurationVar(&stale, "stale", stale, "Query staleTime")
	fs.StringVar(&otelEndpoint, "otel.endpoint", otelEndpoint, "OTLP collector endpoint")
	fs.StringVar(&otelService, "otel.service", otelService, "OpenTelemetry service name")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, runUsage)
		return err
	}

	eventbus.Use(eventbus.New())
	shutdown, err := telemetry.Setup(otelEndpoint, otelService)
	if err != nil {
		return fmt.Errorf("telemetry setup: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	sched := reactive.NewScheduler()
	owners := reactive.NewOwnerRegistry(sched)
	entities := entity.NewStore(sched, owners)
	backend := newMapBackend()

	node := itemNode()
	resolver := func(typename string) (*schema.Node, bool) {
		if typename == "Item" {
			return node, true
		}
		return nil, false
	}
	store := querykv.NewStore(backend, entities, resolver, querylog.Default(), nil)
	netManager := network.NewManager(sched, true)
	client := query.NewClient(sched, owners, entities, store,
		query.WithNetworkManager(netManager),
		query.WithContext(context.Background()),
	)

	dataset := fakeDataset(items)
	def := &query.QueryDefinition{
		ID:    "listItems",
		Kind:  query.KindInfiniteQuery,
		Shape: schema.Array(node),
		Cache: query.CacheConfig{StaleTime: stale, GCTime: time.Minute, MaxCount: 5},
		Fetch: func(ctx context.Context, params map[string]any) (any, error) {
			cursor, _ := params["cursor"].(int)
			return fetchPage(dataset, cursor, pageSize), nil
		},
		Pagination: &query.PaginationConfig{
			GetNextPageParams: func(lastPage any) (map[string]any, bool) {
				page, ok := lastPage.([]any)
				if !ok || len(page) < pageSize {
					return nil, false
				}
				last, ok := page[len(page)-1].(*entity.Proxy)
				if !ok {
					return nil, false
				}
				id, ok := last.Get("id").(float64)
				if !ok {
					return nil, false
				}
				next := int(id) + 1
				if next >= items {
					return nil, false
				}
				return map[string]any{"cursor": next}, true
			},
		},
	}

	listItems := query.Query(client, def)
	result := listItems(func() query.Params { return query.Params{} })

	result.Watch()
	defer result.Unwatch()

	logResultState("initial fetch", result)

	for result.HasNextPage() {
		if err := result.FetchNextPage(); err != nil {
			return fmt.Errorf("fetch next page: %w", err)
		}
		logResultState("after fetchNextPage", result)
	}

	time.Sleep(stale)
	if err := result.Refetch(); err != nil {
		return fmt.Errorf("refetch: %w", err)
	}
	logResultState("after refetch", result)
	return nil
}

func logResultState(label string, r *query.QueryResult) {
	pages, _ := r.Value().([]any)
	total := 0
	for _, p := range pages {
		if page, ok := p.([]any); ok {
			total += len(page)
		}
	}
	log.Printf("%s: resolved=%v rejected=%v stale=%v hasNextPage=%v items=%d",
		label, r.IsResolved(), r.IsRejected(), r.IsStale(), r.HasNextPage(), total)
}

func itemNode() *schema.Node {
	return schema.Entity(func() map[string]*schema.Node {
		return map[string]*schema.Node{
			"__typename": schema.Typename("Item"),
			"id":         schema.IDField(),
			"name":       schema.String(),
		}
	})
}

func fakeDataset(n int) []map[string]any {
	out := make([]map[string]any, n)
	for i := 0; i < n; i++ {
		out[i] = map[string]any{
			"id":         float64(i),
			"name":       fmt.Sprintf("item-%d", i),
			"__typename": "Item",
		}
	}
	return out
}

func fetchPage(dataset []map[string]any, cursor, pageSize int) []any {
	end := cursor + pageSize
	if end > len(dataset) {
		end = len(dataset)
	}
	if cursor >= len(dataset) {
		return []any{}
	}
	out := make([]any, 0, end-cursor)
	for _, item := range dataset[cursor:end] {
		out = append(out, item)
	}
	return out
}
