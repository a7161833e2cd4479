package geoip

import (
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
)

// Location holds the geographic data resolved for an IP address.
// Fields are empty when the database has no record for the address
// (private ranges, unallocated space).
type Location struct {
	CountryCode string
	CountryName string
	Region      string
	City        string
	Timezone    string
	Latitude    float64
	Longitude   float64
}

// Service wraps the MaxMind City and ASN database readers.
// The ASN database is optional; without it ASN lookups return an error.
type Service struct {
	cityReader *geoip2.Reader
	asnReader  *geoip2.Reader
}

// NewService opens the given .mmdb files. asnDBPath may be empty to run
// without ASN data.
func NewService(cityDBPath, asnDBPath string) (*Service, error) {
	cityReader, err := geoip2.Open(cityDBPath)
	if err != nil {
		return nil, fmt.Errorf("open city database: %w", err)
	}

	var asnReader *geoip2.Reader
	if asnDBPath != "" {
		asnReader, err = geoip2.Open(asnDBPath)
		if err != nil {
			cityReader.Close()
			return nil, fmt.Errorf("open asn database: %w", err)
		}
	}

	return &Service{
		cityReader: cityReader,
		asnReader:  asnReader,
	}, nil
}

// Close releases the open database readers.
func (s *Service) Close() {
	if s.cityReader != nil {
		s.cityReader.Close()
	}
	if s.asnReader != nil {
		s.asnReader.Close()
	}
}

// HasASN reports whether an ASN database is loaded.
func (s *Service) HasASN() bool {
	return s.asnReader != nil
}

// Lookup resolves country, region, city, timezone, and coordinates for the
// given IP address.
func (s *Service) Lookup(ipAddress string) (*Location, error) {
	ip := net.ParseIP(ipAddress)
	if ip == nil {
		return nil, fmt.Errorf("invalid ip address: %s", ipAddress)
	}

	record, err := s.cityReader.City(ip)
	if err != nil {
		return nil, err
	}

	loc := &Location{
		CountryCode: record.Country.IsoCode,
		CountryName: record.Country.Names["en"],
		City:        record.City.Names["en"],
		Timezone:    record.Location.TimeZone,
		Latitude:    record.Location.Latitude,
		Longitude:   record.Location.Longitude,
	}
	if len(record.Subdivisions) > 0 {
		loc.Region = record.Subdivisions[0].Names["en"]
	}
	return loc, nil
}

// ASN returns the autonomous system number and organization owning the IP.
// Fails when no ASN database is configured.
func (s *Service) ASN(ipAddress string) (uint, string, error) {
	if s.asnReader == nil {
		return 0, "", fmt.Errorf("asn database not configured")
	}

	ip := net.ParseIP(ipAddress)
	if ip == nil {
		return 0, "", fmt.Errorf("invalid ip address: %s", ipAddress)
	}

	record, err := s.asnReader.ASN(ip)
	if err != nil {
		return 0, "", err
	}

	return uint(record.AutonomousSystemNumber), record.AutonomousSystemOrganization, nil
}
