package executors

import "testing"

func TestPrefixOf(t *testing.T) {
	cases := map[string]string{
		"python/script.py": "python",
		"builtin/concat":   "builtin",
		"noprefix":         "noprefix",
		"a/b/c":            "a",
	}
	for taskType, want := range cases {
		if got := prefixOf(taskType); got != want {
			t.Errorf("prefixOf(%q) = %q, want %q", taskType, got, want)
		}
	}
}

func TestDeclaresPrefix(t *testing.T) {
	cases := []struct {
		taskTypes []string
		want      string
		match     bool
	}{
		{[]string{"python/script.py"}, "python", true},
		{[]string{"builtin/concat", "builtin/run"}, "builtin", true},
		{[]string{"python/script.py"}, "builtin", false},
		{nil, "builtin", false},
	}
	for _, c := range cases {
		if got := declaresPrefix(c.taskTypes, c.want); got != c.match {
			t.Errorf("declaresPrefix(%v, %q) = %v, want %v", c.taskTypes, c.want, got, c.match)
		}
	}
}
