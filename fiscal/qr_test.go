package fiscal

import (
	"errors"
	"strings"
	"testing"
)

const sampleQR = "fn=9287440300090728&i=77133&fp=1482926127&s=2400.00&t=20190409T1638&n=1"

func TestDecode_Scenario(t *testing.T) {
	got, err := Decode(sampleQR)
	if err != nil {
		t.Fatalf("Decode() error = %v, want nil", err)
	}

	want := QRPayload{
		FN:            "9287440300090728",
		FD:            "77133",
		FP:            "1482926127",
		Sum:           "2400.00",
		Date:          "2019-04-09T16:38:00",
		TypeOperation: "1",
	}
	if got != want {
		t.Errorf("Decode() = %+v, want %+v", got, want)
	}
	if got.SumMinor() != 240000 {
		t.Errorf("SumMinor() = %d, want 240000", got.SumMinor())
	}
}

func TestDecode_Idempotent(t *testing.T) {
	first, err := Decode(sampleQR)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	second, err := Decode(sampleQR)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if first != second {
		t.Errorf("Decode() not deterministic: %+v != %+v", first, second)
	}
}

func TestDecode_DefaultsAndSeconds(t *testing.T) {
	got, err := Decode("t=20230115T093005&s=10.5&fn=9960440300000001&i=12&fp=345")
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got.TypeOperation != OperationPurchase {
		t.Errorf("TypeOperation = %q, want %q", got.TypeOperation, OperationPurchase)
	}
	if got.Date != "2023-01-15T09:30:05" {
		t.Errorf("Date = %q, want 2023-01-15T09:30:05", got.Date)
	}
	if got.SumMinor() != 1050 {
		t.Errorf("SumMinor() = %d, want 1050", got.SumMinor())
	}
}

func TestDecode_EveryOmissionFails(t *testing.T) {
	parts := map[string]string{
		"fn": "9287440300090728",
		"i":  "77133",
		"fp": "1482926127",
		"s":  "2400.00",
		"t":  "20190409T1638",
	}

	// every non-empty subset of required keys removed
	keys := requiredKeys
	for mask := 1; mask < 1<<len(keys); mask++ {
		var kept []string
		var dropped []string
		for i, k := range keys {
			if mask&(1<<i) != 0 {
				dropped = append(dropped, k)
				continue
			}
			kept = append(kept, k+"="+parts[k])
		}
		raw := strings.Join(append(kept, "n=1"), "&")

		_, err := Decode(raw)
		if !errors.Is(err, ErrMalformedQR) {
			t.Errorf("Decode() without %v error = %v, want ErrMalformedQR", dropped, err)
		}
	}
}

func TestDecode_Unparsable(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"short fn", "fn=123&i=1&fp=2&s=1.00&t=20190409T1638"},
		{"alpha fd", "fn=9287440300090728&i=abc&fp=2&s=1.00&t=20190409T1638"},
		{"alpha fp", "fn=9287440300090728&i=1&fp=x2&s=1.00&t=20190409T1638"},
		{"bad sum", "fn=9287440300090728&i=1&fp=2&s=12,00&t=20190409T1638"},
		{"negative sum", "fn=9287440300090728&i=1&fp=2&s=-1.00&t=20190409T1638"},
		{"three decimals", "fn=9287440300090728&i=1&fp=2&s=1.001&t=20190409T1638"},
		{"bad date", "fn=9287440300090728&i=1&fp=2&s=1.00&t=2019-04-09"},
		{"impossible date", "fn=9287440300090728&i=1&fp=2&s=1.00&t=20191309T1638"},
		{"unknown operation", "fn=9287440300090728&i=1&fp=2&s=1.00&t=20190409T1638&n=9"},
		{"empty value", "fn=&i=1&fp=2&s=1.00&t=20190409T1638"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.raw); !errors.Is(err, ErrMalformedQR) {
				t.Errorf("Decode(%q) error = %v, want ErrMalformedQR", tt.raw, err)
			}
		})
	}
}

func TestDecode_ReturnOperation(t *testing.T) {
	got, err := Decode("fn=9287440300090728&i=77133&fp=1482926127&s=2400.00&t=20190409T1638&n=2")
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !got.IsReturn() {
		t.Error("IsReturn() = false, want true")
	}
	key := got.Key()
	if key.FiscalDocumentNumber != "77133" {
		t.Errorf("Key().FiscalDocumentNumber = %q, want 77133", key.FiscalDocumentNumber)
	}
}

func FuzzDecode(f *testing.F) {
	f.Add(sampleQR)
	f.Add("fn=1&i=2")
	f.Fuzz(func(t *testing.T, raw string) {
		first, err1 := Decode(raw)
		second, err2 := Decode(raw)
		if (err1 == nil) != (err2 == nil) || first != second {
			t.Fatalf("Decode(%q) not deterministic", raw)
		}
		if err1 != nil && !errors.Is(err1, ErrMalformedQR) {
			t.Fatalf("Decode(%q) error = %v, want ErrMalformedQR", raw, err1)
		}
	})
}
