// ABOUTME: Package discovery produces desired-site lists for reconciliation
// ABOUTME: Ranking lists over HTTP, CDN locator output, and a TTL cache in front

// Package discovery turns external sources into reconcile candidates.
//
// A Lister returns plain domains for a source, optionally per country. The
// RankingLister downloads a "rank,domain" CSV list; CachedLister keeps the
// result in memory so repeated syncs within the TTL do not hit the provider
// again.
//
// ParseOCA reads the JSON written by the OCA locator and builds one
// candidate per appliance, with probe, name, title and geo metadata filled
// in.
package discovery
