package query

import "errors"

// ErrPaused is returned by runQuery (and therefore by refetch/fetchNextPage)
// when the network manager's pause policy is currently in effect for this
// query's networkMode.
var ErrPaused = errors.New("query is paused due to network status")

// ErrStreamMisuse is returned by Refetch on a stream query and by
// FetchNextPage on any definition that is not an InfiniteQuery.
var ErrStreamMisuse = errors.New("operation not supported on a stream query")

// ErrFetchingMore is returned by refetch while fetchNextPage is in flight.
var ErrFetchingMore = errors.New("cannot refetch while fetching the next page")

// ErrRefetching is returned by fetchNextPage while a refetch is in flight.
var ErrRefetching = errors.New("cannot fetch the next page while refetching")

// ErrNoNextPage is returned by fetchNextPage once pagination is exhausted.
var ErrNoNextPage = errors.New("no next page to fetch")
