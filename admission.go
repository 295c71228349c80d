package quotecache

import "context"

// SymbolAdmission gates a read before it touches the cache or the
// source. The engine ships three: WhitelistAdmission, BloomAdmission and
// AlwaysAdmission.
type SymbolAdmission func(ctx context.Context, symbol string) bool

// WhitelistAdmission admits a symbol only if SourceRepository.ExistsSymbol
// reports it present. ExistsSymbol is required to be a fast, IO-free
// check (spec §6), so this admission never touches the network on its own.
func WhitelistAdmission(source SourceRepository) SymbolAdmission {
	return func(ctx context.Context, symbol string) bool {
		return source.ExistsSymbol(ctx, symbol)
	}
}

// BloomFilterChecker is satisfied by *bloom.Filter; it is declared here,
// rather than importing the bloom package, so quotecache and bloom do not
// form an import cycle (bloom has no need of quotecache's types).
type BloomFilterChecker interface {
	MightContain(s string) bool
}

// BloomAdmission admits a symbol if the bloom filter reports it might be
// present. False positives are bounded by the filter's configured
// probability; false negatives never occur for symbols in the filter's
// build-time snapshot (spec §4.7). A symbol added to the source after the
// filter was built is rejected until a rebuilt filter containing it is
// installed, an accepted staleness trade-off documented in spec §4.7.
func BloomAdmission(filter BloomFilterChecker) SymbolAdmission {
	return func(ctx context.Context, symbol string) bool {
		return filter.MightContain(symbol)
	}
}

// AlwaysAdmission admits every symbol; it is the default admission when
// none is configured, equivalent to plain cache-aside with no pre-filter.
func AlwaysAdmission(ctx context.Context, symbol string) bool {
	return true
}
