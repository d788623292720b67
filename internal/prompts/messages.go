package prompts

import "fmt"

// LooksHebrew reports whether any rune of s falls in the Hebrew Unicode
// block. The language of a reply to an unidentified user, and of the
// medication-not-found fallback, is chosen from the incoming user
// message with this predicate — never from model output.
func LooksHebrew(s string) bool {
	for _, r := range s {
		if r >= 0x0590 && r <= 0x05FF {
			return true
		}
	}
	return false
}

// UserNotFound is the single message emitted when the identity gate
// misses. No model call is made on this path.
func UserNotFound(userID string, hebrew bool) string {
	if hebrew {
		return fmt.Sprintf("לא מצאתי את המשתמש במערכת (user_id: %s), ולכן לא אוכל להמשיך. אם יש לך user_id אחר, שלחי/שלח אותו בבקשה.", userID)
	}
	return fmt.Sprintf("I couldn’t find this user in our system (user_id: %s), so I can’t proceed. Please provide a valid user_id.", userID)
}

// MedicationNotFound is the single deterministic message emitted when
// any tool result in a turn reports the medication missing from the
// internal database. The model is never asked to improvise here.
func MedicationNotFound(hebrew bool) string {
	if hebrew {
		return "מצטער/ת, לא מצאתי את שם התרופה במאגר הפנימי של בית המרקחת, " +
			"ולכן אינני יכול/ה לספק מידע עליה. " +
			"אם תרצה/י, אפשר לבדוק שוב עם איות מדויק (ובאנגלית אם יש), או לציין שם מסחרי."
	}
	return "Sorry — I couldn’t find that medication in our internal pharmacy database, " +
		"so I can’t provide information about it. " +
		"If you’d like, please confirm the exact spelling (and the generic/brand name)."
}

// StreamFailure is appended when the backend surfaces a stream-level
// error event. The stream terminates immediately after it.
const StreamFailure = "\nSorry — I encountered an error while generating the response."

// MissingToolContext is emitted when the decision call's output is
// unexpectedly empty at final-call time. This is an internal
// consistency fault, not a user error.
const MissingToolContext = "\nSorry — internal error: missing tool call context."
