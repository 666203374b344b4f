// Package decision implements the pure, side-effect-free request
// evaluation at the heart of edgeguard: given a client's raw address plus
// its enrichment attributes, decide whether to forward the request or
// deny it under a specific category.
//
// Evaluate performs no I/O and no logging; every input it needs is passed
// in by the caller (the filter middleware), which alone decides where
// those inputs come from (raw connection info, cache, fresh enrichment
// lookup) and what to do with the result.
package decision

import (
	"strings"

	"github.com/nulpointcorp/edgeguard/internal/config"
)

// EvalRequest bundles everything the engine needs to reach a verdict for
// one request. Enrichment fields are zero-valued when no enrichment data
// was available (e.g. upstream failure already short-circuited to a 503
// before the engine is ever consulted).
type EvalRequest struct {
	IP   string
	Path string

	Continent    string
	Country      string
	ASN          *int
	RDNSHostname string
	IsHosting    bool
	IsProxy      bool

	InboundBadIP  bool
	OutboundBadIP bool
}

// Decision is the engine's verdict. When Allow is false, Category names
// which configured rule produced the denial, used to select the response
// to render.
type Decision struct {
	Allow    bool
	Category string
}

func allow() Decision { return Decision{Allow: true} }

func deny(category string) Decision { return Decision{Allow: false, Category: category} }

// Evaluate runs the eight ordered block/allow rules against req and cfg,
// honoring the exception lists as a global short-circuit. Rule order:
// inbound_bad_ip, outbound_bad_ip, continent, country, asn,
// rdns_hostname, hosting, proxy. The first matching rule wins.
//
// The raw block_ip check is not one of these eight rules: it is a
// middleware short-circuit evaluated before enrichment ever runs, so it
// has no place in this function.
func Evaluate(req EvalRequest, cfg *config.Config) Decision {
	if isException(req, cfg) {
		return allow()
	}

	if cfg.BlockInboundBadIP && req.InboundBadIP {
		return deny(config.CategoryInboundBadIP)
	}
	if cfg.BlockOutboundBadIP && req.OutboundBadIP {
		return deny(config.CategoryOutboundBadIP)
	}

	if req.Continent != "" {
		if _, blocked := cfg.BlockContinent[strings.ToUpper(req.Continent)]; blocked {
			return deny(config.CategoryContinent)
		}
	}

	if req.Country != "" {
		if _, blocked := cfg.BlockCountry[strings.ToUpper(req.Country)]; blocked {
			return deny(config.CategoryCountry)
		}
	}

	if req.ASN != nil {
		if _, blocked := cfg.BlockASN[*req.ASN]; blocked {
			return deny(config.CategoryASN)
		}
	}

	if req.RDNSHostname != "" {
		if _, blocked := cfg.BlockRDNSHostname[strings.ToLower(req.RDNSHostname)]; blocked {
			return deny(config.CategoryRDNSHostname)
		}
	}

	if !cfg.AllowHosting && req.IsHosting {
		return deny(config.CategoryHosting)
	}
	if !cfg.AllowProxy && req.IsProxy {
		return deny(config.CategoryProxy)
	}

	return allow()
}

func isException(req EvalRequest, cfg *config.Config) bool {
	if _, ok := cfg.ExceptionIP[req.IP]; ok {
		return true
	}
	if _, ok := cfg.ExceptionPath[req.Path]; ok {
		return true
	}
	return false
}
