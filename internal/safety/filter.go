package safety

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/crosshair-trading/crosshair/internal/chains"
)

// ---------------------------------------------------------------------------
// Safety Filter — classifies a newly discovered asset as tradeable before
// any capital is committed. Fail-closed: on any doubt the verdict is "do
// not trade", never an error to the caller.
// ---------------------------------------------------------------------------

// Verdict is the outcome of one safety evaluation. A verdict with any
// blocking reason is unsafe; warnings alone never block.
type Verdict struct {
	Asset     chains.AssetDescriptor `json:"asset"`
	Tradeable bool                   `json:"tradeable"`
	Warnings  []string               `json:"warnings,omitempty"`
	Blocked   []string               `json:"blocked,omitempty"`
}

// Default red-flag substrings scanned against name+symbol. Matches are
// warnings, not blockers: plenty of legitimate memecoins carry these.
var defaultRedFlags = []string{
	"scam", "ponzi", "rug", "honeypot",
	"moon", "pump", "100x", "1000x",
	"guaranteed", "riskfree", "risk-free",
	"airdrop", "free money", "getrich",
	"elon", "inu2", "safemars",
}

// Config configures the safety filter.
type Config struct {
	// Extra red-flag terms on top of the built-in set.
	ExtraRedFlags []string

	// Initial list seeds. Addresses are matched case-insensitively.
	Whitelist []string
	Blacklist []string

	// Hard timeout for metadata/price lookups during one evaluation.
	CallTimeout time.Duration
}

// Filter evaluates discovered assets. Whitelist, blacklist and red-flag
// terms are mutable at runtime via the add-only methods.
type Filter struct {
	callTimeout time.Duration

	mu        sync.RWMutex
	whitelist map[string]bool
	blacklist map[string]bool
	redFlags  []string
}

// New creates a safety filter.
func New(cfg Config) *Filter {
	f := &Filter{
		callTimeout: cfg.CallTimeout,
		whitelist:   make(map[string]bool),
		blacklist:   make(map[string]bool),
		redFlags:    append([]string(nil), defaultRedFlags...),
	}
	if f.callTimeout <= 0 {
		f.callTimeout = 10 * time.Second
	}
	f.AddWhitelist(cfg.Whitelist...)
	f.AddBlacklist(cfg.Blacklist...)
	f.AddRedFlags(cfg.ExtraRedFlags...)
	return f
}

// AddWhitelist adds addresses to the whitelist. A non-empty whitelist is
// exclusive: assets absent from it are blocked.
func (f *Filter) AddWhitelist(addrs ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range addrs {
		if a != "" {
			f.whitelist[strings.ToLower(a)] = true
		}
	}
}

// AddBlacklist adds addresses to the blacklist.
func (f *Filter) AddBlacklist(addrs ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range addrs {
		if a != "" {
			f.blacklist[strings.ToLower(a)] = true
		}
	}
}

// AddRedFlags adds red-flag substrings to the heuristic scan.
func (f *Filter) AddRedFlags(terms ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range terms {
		if t != "" {
			f.redFlags = append(f.redFlags, strings.ToLower(t))
		}
	}
}

// Whitelisted reports current whitelist membership.
func (f *Filter) Whitelisted(addr string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.whitelist[strings.ToLower(addr)]
}

// Blacklisted reports current blacklist membership.
func (f *Filter) Blacklisted(addr string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.blacklist[strings.ToLower(addr)]
}

// Evaluate classifies the asset at addr on the adapter's chain. It always
// returns a verdict; lookup failures turn into blocking reasons.
func (f *Filter) Evaluate(ctx context.Context, adapter chains.Adapter, addr string) Verdict {
	v := Verdict{
		Asset: chains.AssetDescriptor{Chain: adapter.Name(), Address: addr},
	}
	key := strings.ToLower(addr)

	// 1. Blacklist short-circuits everything.
	f.mu.RLock()
	blacklisted := f.blacklist[key]
	whitelistActive := len(f.whitelist) > 0
	whitelisted := f.whitelist[key]
	f.mu.RUnlock()

	if blacklisted {
		v.Blocked = append(v.Blocked, "address is blacklisted")
		return f.finish(v)
	}

	// 2. A non-empty whitelist is exclusive.
	if whitelistActive && !whitelisted {
		v.Blocked = append(v.Blocked, "whitelist active and asset not on it")
		return f.finish(v)
	}

	// 3. Metadata + red-flag heuristics. Fetch failure is blocking: an
	// asset we cannot inspect is an asset we do not trade.
	ctx, cancel := context.WithTimeout(ctx, f.callTimeout)
	defer cancel()

	info, err := adapter.GetAssetInfo(ctx, addr)
	if err != nil {
		log.Warn().Err(err).
			Str("chain", string(adapter.Name())).
			Str("asset", addr).
			Msg("safety: metadata lookup failed, failing closed")
		v.Blocked = append(v.Blocked, "metadata unavailable: "+err.Error())
		return f.finish(v)
	}
	v.Asset = *info

	haystack := strings.ToLower(info.Name + " " + info.Symbol)
	f.mu.RLock()
	for _, term := range f.redFlags {
		if strings.Contains(haystack, term) {
			v.Warnings = append(v.Warnings, "name/symbol contains "+term)
		}
	}
	f.mu.RUnlock()

	// 4. Price quotability against the reference asset. A zero quote or a
	// quote failure means we could never exit: possible honeypot.
	price, err := adapter.GetAssetPrice(ctx, addr)
	if err != nil {
		v.Blocked = append(v.Blocked, "price quote failed: "+err.Error())
		return f.finish(v)
	}
	if !price.IsPositive() {
		v.Blocked = append(v.Blocked, "unpriceable — possible honeypot")
		return f.finish(v)
	}

	return f.finish(v)
}

func (f *Filter) finish(v Verdict) Verdict {
	v.Tradeable = len(v.Blocked) == 0
	log.Info().
		Str("chain", string(v.Asset.Chain)).
		Str("asset", v.Asset.Address).
		Str("symbol", v.Asset.Symbol).
		Bool("tradeable", v.Tradeable).
		Strs("warnings", v.Warnings).
		Strs("blocked", v.Blocked).
		Msg("safety: verdict")
	return v
}
