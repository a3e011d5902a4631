package geo

import "strings"

// regionTable maps voice region codes to an approximate datacenter location.
var regionTable = map[string]Coordinate{
	"us-east":      {Lat: 39.0438, Lon: -77.4874},
	"us-west":      {Lat: 37.3541, Lon: -121.9552},
	"us-central":   {Lat: 41.8781, Lon: -87.6298},
	"us-south":     {Lat: 32.7767, Lon: -96.7970},
	"atlanta":      {Lat: 33.7490, Lon: -84.3880},
	"newark":       {Lat: 40.7357, Lon: -74.1724},
	"seattle":      {Lat: 47.6062, Lon: -122.3321},
	"santa-clara":  {Lat: 37.3541, Lon: -121.9552},
	"oregon":       {Lat: 45.5946, Lon: -121.1787},
	"canada":       {Lat: 43.6532, Lon: -79.3832},
	"brazil":       {Lat: -23.5505, Lon: -46.6333},
	"buenos-aires": {Lat: -34.6037, Lon: -58.3816},
	"santiago":     {Lat: -33.4489, Lon: -70.6693},
	"europe":       {Lat: 50.1109, Lon: 8.6821},
	"frankfurt":    {Lat: 50.1109, Lon: 8.6821},
	"amsterdam":    {Lat: 52.3676, Lon: 4.9041},
	"rotterdam":    {Lat: 51.9244, Lon: 4.4777},
	"london":       {Lat: 51.5074, Lon: -0.1278},
	"paris":        {Lat: 48.8566, Lon: 2.3522},
	"madrid":       {Lat: 40.4168, Lon: -3.7038},
	"milan":        {Lat: 45.4642, Lon: 9.1900},
	"stockholm":    {Lat: 59.3293, Lon: 18.0686},
	"finland":      {Lat: 60.1699, Lon: 24.9384},
	"bucharest":    {Lat: 44.4268, Lon: 26.1025},
	"russia":       {Lat: 55.7558, Lon: 37.6173},
	"dubai":        {Lat: 25.2048, Lon: 55.2708},
	"tel-aviv":     {Lat: 32.0853, Lon: 34.7818},
	"india":        {Lat: 19.0760, Lon: 72.8777},
	"singapore":    {Lat: 1.3521, Lon: 103.8198},
	"hongkong":     {Lat: 22.3193, Lon: 114.1694},
	"japan":        {Lat: 35.6762, Lon: 139.6503},
	"south-korea":  {Lat: 37.5665, Lon: 126.9780},
	"sydney":       {Lat: -33.8688, Lon: 151.2093},
	"southafrica":  {Lat: -26.2041, Lon: 28.0473},
}

// RegionCoordinate looks up a region code. Matching is case-insensitive and
// exact; unknown codes report false.
func RegionCoordinate(code string) (Coordinate, bool) {
	c, ok := regionTable[strings.ToLower(strings.TrimSpace(code))]
	return c, ok
}

// Regions returns the number of known region codes.
func Regions() int {
	return len(regionTable)
}
