package bot

import (
	"fmt"
	"strconv"
	"strings"

	"hetzner_bot/internal/model"
)

// Datacenters offered on the server market, matched by prefix.
var datacenters = []string{"NBG", "FSN", "HEL"}

// ParseSetCommand splits the arguments of /set into field name and value.
func ParseSetCommand(args string) (name, value string, err error) {
	parts := strings.Fields(args)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("exactly two parameters need to be specified, e.g. /set hdd_count 3")
	}
	return parts[0], parts[1], nil
}

// ApplySetting validates one field update and applies it to the
// subscriber. On any validation error the subscriber is left untouched
// and the error text is suitable for showing to the user.
func ApplySetting(sub *model.Subscriber, name, value string) error {
	switch name {
	case "raid":
		return applyRaid(sub, value)
	case "datacenter":
		return applyDatacenter(sub, value)
	case "ecc", "inic", "hwr", "ipv4":
		return applyBool(sub, name, value)
	case "hdd_count", "hdd_size", "after_raid", "ram", "price",
		"threads", "release_date", "multi_rating", "single_rating":
		return applyInt(sub, name, value)
	default:
		return fmt.Errorf("unknown parameter %q. Type /help for more information", name)
	}
}

func applyRaid(sub *model.Subscriber, value string) error {
	switch value {
	case "raid5":
		if sub.HDDCount < 3 {
			return fmt.Errorf("RAID5 needs at least 3 drives, but hdd_count is %d", sub.HDDCount)
		}
		sub.Raid = model.Raid5
	case "raid6":
		if sub.HDDCount < 4 {
			return fmt.Errorf("RAID6 needs at least 4 drives, but hdd_count is %d", sub.HDDCount)
		}
		sub.Raid = model.Raid6
	case "None":
		sub.Raid = model.RaidNone
	default:
		return fmt.Errorf("invalid value for \"raid\". Use one of: raid5, raid6, None")
	}
	return nil
}

func applyDatacenter(sub *model.Subscriber, value string) error {
	if value == "None" {
		sub.Datacenter = ""
		return nil
	}
	for _, dc := range datacenters {
		if value == dc {
			sub.Datacenter = value
			return nil
		}
	}
	return fmt.Errorf("invalid value for \"datacenter\". Use one of: %s, None", strings.Join(datacenters, ", "))
}

func applyBool(sub *model.Subscriber, name, value string) error {
	var flag bool
	switch value {
	case "0":
		flag = false
	case "1":
		flag = true
	default:
		return fmt.Errorf("the value for %q needs to be a boolean (0 or 1)", name)
	}

	switch name {
	case "ecc":
		sub.ECC = flag
	case "inic":
		sub.INic = flag
	case "hwr":
		sub.HWR = flag
	case "ipv4":
		sub.IPv4 = flag
	}
	return nil
}

func applyInt(sub *model.Subscriber, name, value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("the value for %q is not an integer", name)
	}
	if n < 0 {
		return fmt.Errorf("the value for %q must not be negative", name)
	}

	switch name {
	case "hdd_count":
		sub.HDDCount = n
	case "hdd_size":
		sub.HDDSize = n
	case "after_raid":
		sub.AfterRaid = n
	case "ram":
		sub.RAM = n
	case "price":
		sub.Price = n
	case "threads":
		sub.Threads = n
	case "release_date":
		sub.ReleaseDate = n
	case "multi_rating":
		sub.MultiRating = n
	case "single_rating":
		sub.SingleRating = n
	}
	return nil
}

// ParseCPUArgs parses the semicolon-separated /addcpu arguments:
// <name>; <threads>; <release year>; <multi rating>; <single rating>.
func ParseCPUArgs(args string) (model.CPU, error) {
	parts := strings.Split(args, ";")
	if len(parts) != 5 {
		return model.CPU{}, fmt.Errorf("usage: /addcpu <name>; <threads>; <year>; <multi>; <single>")
	}

	name := strings.TrimSpace(parts[0])
	if name == "" {
		return model.CPU{}, fmt.Errorf("cpu name must not be empty")
	}

	numbers := make([]int, 4)
	for i, part := range parts[1:] {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return model.CPU{}, fmt.Errorf("%q is not an integer", strings.TrimSpace(part))
		}
		numbers[i] = n
	}

	return model.CPU{
		Name:         name,
		Threads:      numbers[0],
		ReleaseDate:  numbers[1],
		MultiRating:  numbers[2],
		SingleRating: numbers[3],
	}, nil
}
