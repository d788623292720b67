package prompts

import (
	"strings"
	"testing"
)

func TestLooksHebrew(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"do you have paracetamol?", false},
		{"יש לכם אקמול?", true},
		{"do you carry אקמול?", true},
		{"", false},
		{"用中文", false},
		{"12345 !?", false},
	}

	for _, tt := range tests {
		if got := LooksHebrew(tt.in); got != tt.want {
			t.Errorf("LooksHebrew(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestUserNotFound(t *testing.T) {
	en := UserNotFound("u999", false)
	if !strings.Contains(en, "user_id: u999") {
		t.Errorf("English message must carry the user id: %q", en)
	}
	if LooksHebrew(en) {
		t.Errorf("unexpected Hebrew in English message: %q", en)
	}

	he := UserNotFound("u999", true)
	if !strings.Contains(he, "user_id: u999") {
		t.Errorf("Hebrew message must carry the user id: %q", he)
	}
	if !LooksHebrew(he) {
		t.Errorf("expected Hebrew message: %q", he)
	}
}

func TestMedicationNotFound(t *testing.T) {
	if LooksHebrew(MedicationNotFound(false)) {
		t.Error("unexpected Hebrew in English message")
	}
	if !LooksHebrew(MedicationNotFound(true)) {
		t.Error("expected Hebrew message")
	}
}

func TestUserContext(t *testing.T) {
	got := UserContext("u001", "Einat Shvartz", []string{"Amoxicillin", "Metformin"})
	want := "User context: user_id=u001, name=Einat Shvartz, prescriptions=[Amoxicillin Metformin]"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	got = UserContext("u002", "Noa Cohen", nil)
	want = "User context: user_id=u002, name=Noa Cohen, prescriptions=[]"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
