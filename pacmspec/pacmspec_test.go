package pacmspec

import "testing"

func TestParse(t *testing.T) {
	cases := []struct {
		in        string
		wantName  string
		wantRange string
		wantErr   bool
	}{
		{"lodash", "lodash", "latest", false},
		{"lodash@^4.17.0", "lodash", "^4.17.0", false},
		{"@types/node", "@types/node", "latest", false},
		{"@types/node@^18.11.0", "@types/node", "^18.11.0", false},
		{"", "", "", true},
		{"@nodash", "", "", true},
		{"lodash@", "", "", true},
	}
	for _, c := range cases {
		got, err := Parse(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("Parse(%q): expected error", c.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("Parse(%q): unexpected error: %v", c.in, err)
			continue
		}
		if got.Name != c.wantName || got.Range != c.wantRange {
			t.Errorf("Parse(%q) = %+v, want name=%q range=%q", c.in, got, c.wantName, c.wantRange)
		}
	}
}

func TestStringRoundTrip(t *testing.T) {
	s := Spec{Name: "@types/node", Range: "^18.0.0"}
	if s.String() != "@types/node@^18.0.0" {
		t.Fatalf("unexpected String(): %s", s.String())
	}
}
