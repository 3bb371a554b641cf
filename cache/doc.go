// Package cache implements a GET response cache for JSON API handlers.
//
// Responses are keyed by normalized path and sorted query string, so
// /api/kpis?b=2&a=1 and /api/kpis?a=1&b=2 share an entry. Only 200 responses
// with a JSON content type are stored. A hit replays the stored body with
// "X-Cache: HIT" without calling the handler; a miss adds "X-Cache: MISS".
//
// Entries expire after Config.TTL. A background sweep started with Start
// removes expired entries every Config.SweepInterval regardless of traffic.
//
// With InvalidateOnWrite (the default) a successful POST, PUT, PATCH or
// DELETE removes the cached reads of that path, its sub-paths and the
// listing of its parent collection. Writes that bypass the middleware must
// call Invalidate themselves or accept staleness up to the TTL.
//
// Store errors never reach the client: a failed lookup is a miss and a
// failed store is logged.
package cache
