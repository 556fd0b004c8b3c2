package vin

import "regexp"

// letterValues is the ISO 3779 transliteration table. I, O and Q are not part
// of the VIN alphabet.
var letterValues = map[rune]int{
	'A': 1, 'B': 2, 'C': 3, 'D': 4, 'E': 5, 'F': 6, 'G': 7, 'H': 8,
	'J': 1, 'K': 2, 'L': 3, 'M': 4, 'N': 5, 'P': 7, 'R': 9,
	'S': 2, 'T': 3, 'U': 4, 'V': 5, 'W': 6, 'X': 7, 'Y': 8, 'Z': 9,
}

// weights per position; the check digit position carries weight 0.
var weights = [Length]int{8, 7, 6, 5, 4, 3, 2, 10, 0, 9, 8, 7, 6, 5, 4, 3, 2}

var wmiPattern = regexp.MustCompile(`^[A-HJ-NPR-Z0-9]{3}$`)

// modelYearCodes maps position 10 to the 2001-2030 cycle. I, O, Q, U and Z
// are never used as model year codes.
var modelYearCodes = map[rune]int{
	'1': 2001, '2': 2002, '3': 2003, '4': 2004, '5': 2005,
	'6': 2006, '7': 2007, '8': 2008, '9': 2009,
	'A': 2010, 'B': 2011, 'C': 2012, 'D': 2013, 'E': 2014,
	'F': 2015, 'G': 2016, 'H': 2017, 'J': 2018, 'K': 2019,
	'L': 2020, 'M': 2021, 'N': 2022, 'P': 2023, 'R': 2024,
	'S': 2025, 'T': 2026, 'V': 2027, 'W': 2028, 'X': 2029,
	'Y': 2030,
}

// defaultWMI is an illustrative subset of ISO 3780 assignments. Production
// deployments load the full registry through a WMISource.
var defaultWMI = map[string]Manufacturer{
	"1C4": {Name: "Chrysler", Country: "United States", Region: RegionNorthAmerica},
	"1FA": {Name: "Ford", Country: "United States", Region: RegionNorthAmerica},
	"1FT": {Name: "Ford Trucks", Country: "United States", Region: RegionNorthAmerica},
	"1G1": {Name: "Chevrolet", Country: "United States", Region: RegionNorthAmerica},
	"1GC": {Name: "Chevrolet Trucks", Country: "United States", Region: RegionNorthAmerica},
	"1HG": {Name: "Honda", Country: "United States", Region: RegionNorthAmerica},
	"1N4": {Name: "Nissan", Country: "United States", Region: RegionNorthAmerica},
	"2HG": {Name: "Honda", Country: "Canada", Region: RegionNorthAmerica},
	"2T1": {Name: "Toyota", Country: "Canada", Region: RegionNorthAmerica},
	"3FA": {Name: "Ford", Country: "Mexico", Region: RegionNorthAmerica},
	"3VW": {Name: "Volkswagen", Country: "Mexico", Region: RegionNorthAmerica},
	"4T1": {Name: "Toyota", Country: "United States", Region: RegionNorthAmerica},
	"5FN": {Name: "Honda", Country: "United States", Region: RegionNorthAmerica},
	"5YJ": {Name: "Tesla", Country: "United States", Region: RegionNorthAmerica},
	"JF1": {Name: "Subaru", Country: "Japan", Region: RegionAsia},
	"JHM": {Name: "Honda", Country: "Japan", Region: RegionAsia},
	"JM1": {Name: "Mazda", Country: "Japan", Region: RegionAsia},
	"JN1": {Name: "Nissan", Country: "Japan", Region: RegionAsia},
	"JTD": {Name: "Toyota", Country: "Japan", Region: RegionAsia},
	"KMH": {Name: "Hyundai", Country: "South Korea", Region: RegionAsia},
	"KNA": {Name: "Kia", Country: "South Korea", Region: RegionAsia},
	"SAL": {Name: "Land Rover", Country: "United Kingdom", Region: RegionEurope},
	"VF1": {Name: "Renault", Country: "France", Region: RegionEurope},
	"WAU": {Name: "Audi", Country: "Germany", Region: RegionEurope},
	"WBA": {Name: "BMW", Country: "Germany", Region: RegionEurope},
	"WDD": {Name: "Mercedes-Benz", Country: "Germany", Region: RegionEurope},
	"WVW": {Name: "Volkswagen", Country: "Germany", Region: RegionEurope},
	"YV1": {Name: "Volvo", Country: "Sweden", Region: RegionEurope},
	"ZFA": {Name: "Fiat", Country: "Italy", Region: RegionEurope},
}
