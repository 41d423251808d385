package dbconfig

import "testing"

func TestDurabilityPragma(t *testing.T) {
	cases := []struct {
		d    Durability
		want string
	}{
		{DurabilityOff, "OFF"},
		{DurabilityFull, "FULL"},
		{DurabilityNormal, "NORMAL"},
		{Durability("bogus"), "NORMAL"},
	}
	for _, c := range cases {
		if got := c.d.Pragma(); got != c.want {
			t.Errorf("%q.Pragma() = %q, want %q", c.d, got, c.want)
		}
	}
}

func TestMergeOverridesNonZeroFields(t *testing.T) {
	merged, err := Merge(Config{DBPath: "/tmp/test.db", ChunkSize: 8192})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if merged.DBPath != "/tmp/test.db" {
		t.Errorf("DBPath = %q, want override", merged.DBPath)
	}
	if merged.ChunkSize != 8192 {
		t.Errorf("ChunkSize = %d, want override 8192", merged.ChunkSize)
	}
	// Untouched fields fall back to defaults.
	if merged.ReaderCount != DefaultConfig().ReaderCount {
		t.Errorf("ReaderCount = %d, want default %d", merged.ReaderCount, DefaultConfig().ReaderCount)
	}
	if merged.Tiers.HotBudget != DefaultConfig().Tiers.HotBudget {
		t.Errorf("Tiers.HotBudget = %d, want default", merged.Tiers.HotBudget)
	}
}

func TestValidateRejectsEmptyDBPath(t *testing.T) {
	cfg := DefaultConfig()
	if err := Validate(cfg); err == nil {
		t.Error("Validate: want error for empty db_path")
	}
}

func TestValidateRejectsSmallChunkSize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DBPath = "/tmp/test.db"
	cfg.ChunkSize = 100
	if err := Validate(cfg); err == nil {
		t.Error("Validate: want error for chunk_size below 4096")
	}
}

func TestValidateRejectsBadDurability(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DBPath = "/tmp/test.db"
	cfg.Durability = Durability("sideways")
	if err := Validate(cfg); err == nil {
		t.Error("Validate: want error for invalid durability")
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DBPath = "/tmp/test.db"
	if err := Validate(cfg); err != nil {
		t.Errorf("Validate: %v, want defaults to be valid once db_path is set", err)
	}
}

func TestWriterPragmasOmitsQueryOnly(t *testing.T) {
	cfg := DefaultConfig()
	for _, p := range WriterPragmas(cfg) {
		if p == "PRAGMA query_only=ON" {
			t.Error("WriterPragmas should not set query_only")
		}
	}
}

func TestReaderPragmasIncludesQueryOnly(t *testing.T) {
	cfg := DefaultConfig()
	found := false
	for _, p := range ReaderPragmas(cfg) {
		if p == "PRAGMA query_only=ON" {
			found = true
		}
	}
	if !found {
		t.Error("ReaderPragmas should set query_only=ON")
	}
}
