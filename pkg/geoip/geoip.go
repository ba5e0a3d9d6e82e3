// Package geoip enriches scanner metadata with a MaxMind city lookup.
package geoip

import (
	"fmt"
	"net"

	"github.com/oschwald/maxminddb-golang"
)

type cityRecord struct {
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
	City struct {
		Names map[string]string `maxminddb:"names"`
	} `maxminddb:"city"`
}

// Location is the subset of a lookup the relay records.
type Location struct {
	Country string
	City    string
}

// Resolver looks up addresses in a MaxMind database. A nil *Resolver is
// valid and finds nothing.
type Resolver struct {
	db *maxminddb.Reader
}

func Open(path string) (*Resolver, error) {
	db, err := maxminddb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open geoip database %s: %w", path, err)
	}

	return &Resolver{db: db}, nil
}

// Lookup returns the location of ip, and false when ip is unparsable,
// unknown to the database, or the resolver is nil.
func (r *Resolver) Lookup(ip string) (Location, bool) {
	if r == nil || r.db == nil {
		return Location{}, false
	}

	parsed := net.ParseIP(ip)
	if parsed == nil {
		return Location{}, false
	}

	var rec cityRecord
	if err := r.db.Lookup(parsed, &rec); err != nil {
		return Location{}, false
	}

	loc := Location{Country: rec.Country.ISOCode, City: rec.City.Names["en"]}
	if loc.Country == "" && loc.City == "" {
		return Location{}, false
	}

	return loc, true
}

// Annotate adds geo_country and geo_city to meta when ip resolves.
func (r *Resolver) Annotate(meta map[string]interface{}, ip string) {
	loc, ok := r.Lookup(ip)
	if !ok {
		return
	}

	if loc.Country != "" {
		meta["geo_country"] = loc.Country
	}

	if loc.City != "" {
		meta["geo_city"] = loc.City
	}
}

func (r *Resolver) Close() error {
	if r == nil || r.db == nil {
		return nil
	}

	return r.db.Close()
}
