package fetcher

import (
	"io"
	"log/slog"
	"testing"

	"github.com/google/go-cmp/cmp"

	"hetzner_bot/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		raw     map[string]any
		want    model.Offer
		wantErr bool
	}{
		{
			name: "full record",
			raw: map[string]any{
				"key":        float64(1602566),
				"cpu":        " Intel Core i7-8700 ",
				"ram_size":   float64(64),
				"datacenter": "FSN1-DC15",
				"price":      38.5,
				"specials":   []any{"ECC", "iNIC"},
				"serverDiskData": map[string]any{
					"general": []any{float64(4000), float64(4000), float64(4000)},
					"hdd":     []any{float64(4000), float64(4000), float64(4000)},
				},
			},
			want: model.Offer{
				ID:         1602566,
				CPU:        "Intel Core i7-8700",
				RAM:        64,
				Datacenter: "FSN1-DC15",
				Price:      3850,
				ECC:        true,
				INic:       true,
				Disks:      []model.DiskGroup{{Type: model.DiskHDD, Size: 4000, Amount: 3}},
			},
		},
		{
			name: "ipv4 special adds surcharge",
			raw: map[string]any{
				"key":            float64(7),
				"cpu":            "AMD Ryzen 5 3600",
				"ram_size":       float64(64),
				"price":          float64(40),
				"specials":       []any{"IPv4"},
				"serverDiskData": map[string]any{"hdd": []any{float64(2000)}},
			},
			want: model.Offer{
				ID:    7,
				CPU:   "AMD Ryzen 5 3600",
				RAM:   64,
				Price: 4170,
				IPv4:  true,
				Disks: []model.DiskGroup{{Type: model.DiskHDD, Size: 2000, Amount: 1}},
			},
		},
		{
			name: "ram as GB string",
			raw: map[string]any{
				"key":            float64(8),
				"cpu":            "AMD Ryzen 5 3600",
				"ram":            "128 GB",
				"price":          float64(40),
				"serverDiskData": map[string]any{"hdd": []any{float64(2000)}},
			},
			want: model.Offer{
				ID:    8,
				CPU:   "AMD Ryzen 5 3600",
				RAM:   128,
				Price: 4000,
				Disks: []model.DiskGroup{{Type: model.DiskHDD, Size: 2000, Amount: 1}},
			},
		},
		{
			name: "mixed disk technologies coalesce per type and size",
			raw: map[string]any{
				"key":      float64(9),
				"cpu":      "AMD Ryzen 5 3600",
				"ram_size": float64(64),
				"price":    float64(40),
				"serverDiskData": map[string]any{
					"general": []any{float64(2000), float64(2000), float64(960)},
					"hdd":     []any{float64(2000), float64(2000)},
					"nvme":    []any{float64(960)},
				},
			},
			want: model.Offer{
				ID:    9,
				CPU:   "AMD Ryzen 5 3600",
				RAM:   64,
				Price: 4000,
				Disks: []model.DiskGroup{
					{Type: model.DiskHDD, Size: 2000, Amount: 2},
					{Type: model.DiskNVMe, Size: 960, Amount: 1},
				},
			},
		},
		{
			name: "missing cpu rejected",
			raw: map[string]any{
				"key":            float64(10),
				"ram_size":       float64(64),
				"price":          float64(40),
				"serverDiskData": map[string]any{"hdd": []any{float64(2000)}},
			},
			wantErr: true,
		},
		{
			name: "non-numeric price rejected",
			raw: map[string]any{
				"key":            float64(11),
				"cpu":            "AMD Ryzen 5 3600",
				"ram_size":       float64(64),
				"price":          "cheap",
				"serverDiskData": map[string]any{"hdd": []any{float64(2000)}},
			},
			wantErr: true,
		},
		{
			name: "missing key rejected",
			raw: map[string]any{
				"cpu":            "AMD Ryzen 5 3600",
				"ram_size":       float64(64),
				"price":          float64(40),
				"serverDiskData": map[string]any{"hdd": []any{float64(2000)}},
			},
			wantErr: true,
		},
		{
			name: "missing disk data rejected",
			raw: map[string]any{
				"key":      float64(12),
				"cpu":      "AMD Ryzen 5 3600",
				"ram_size": float64(64),
				"price":    float64(40),
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Normalize() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNormalizeAllDropsMalformed(t *testing.T) {
	raw := []map[string]any{
		{
			"key":            float64(1),
			"cpu":            "AMD Ryzen 5 3600",
			"ram_size":       float64(64),
			"price":          float64(40),
			"serverDiskData": map[string]any{"hdd": []any{float64(2000)}},
		},
		{
			// No cpu, must be dropped without failing the batch.
			"key":            float64(2),
			"ram_size":       float64(64),
			"price":          float64(40),
			"serverDiskData": map[string]any{"hdd": []any{float64(2000)}},
		},
	}

	offers := NormalizeAll(raw, discardLogger())
	if len(offers) != 1 {
		t.Fatalf("expected 1 offer, got %d", len(offers))
	}
	if diff := cmp.Diff(int64(1), offers[0].ID); diff != "" {
		t.Errorf("offer id mismatch (-want +got):\n%s", diff)
	}
}
