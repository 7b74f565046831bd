// Package model defines the domain types used across the application.
package model

import "time"

// DiskType classifies the storage technology of a disk group.
type DiskType string

// Disk technologies listed on the server market.
const (
	DiskHDD  DiskType = "hdd"
	DiskSATA DiskType = "sata"
	DiskNVMe DiskType = "nvme"
)

// DiskGroup is a coalesced set of identical disks in an offer.
// No two groups of one offer share the same (Type, Size).
type DiskGroup struct {
	Type   DiskType
	Size   int
	Amount int
}

// Offer is one normalized listing from the server market.
type Offer struct {
	ID          int64
	Deactivated bool

	CPU        string
	RAM        int
	Datacenter string

	Disks []DiskGroup

	ECC  bool
	INic bool
	HWR  bool
	IPv4 bool

	// Price is the net price in cents, IPv4 surcharge included.
	Price      int
	LastUpdate time.Time
}

// RaidMode selects how after-raid capacity is computed.
type RaidMode string

// Supported raid modes. RaidNone means no raid constraint.
const (
	RaidNone RaidMode = ""
	Raid5    RaidMode = "raid5"
	Raid6    RaidMode = "raid6"
)

// Subscriber is one bot user and their standing filter configuration.
// Zero-valued thresholds mean "no constraint".
type Subscriber struct {
	ChatID     int64
	Active     bool
	Authorized bool

	HDDCount  int
	HDDSize   int
	Raid      RaidMode
	AfterRaid int

	// Price is the maximum net price in whole euros.
	Price      int
	RAM        int
	Datacenter string

	ECC  bool
	INic bool
	HWR  bool
	IPv4 bool

	Threads      int
	ReleaseDate  int
	MultiRating  int
	SingleRating int
}

// CPU holds benchmark reference data for a processor name.
type CPU struct {
	Name         string
	Threads      int
	ReleaseDate  int
	MultiRating  int
	SingleRating int
}

// MatchedOffer is an offer together with its notification state
// for one subscriber.
type MatchedOffer struct {
	Offer    Offer
	Notified bool
	IsNew    bool
}
