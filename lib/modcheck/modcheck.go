// Package modcheck defines shared types for the moderation pipeline,
// passed between the classifier, the sanctions engine and callers.
package modcheck

import (
	"fmt"
	"strings"
)

// Category is a class of flagged words in the lexicon.
type Category string

// enum of lexicon categories, values match the backing store document ids
const (
	CategoryBully      Category = "bully_words"
	CategoryHarassment Category = "sexual_harassment_words"
	CategoryProfanity  Category = "bad_words"
)

// Categories lists all known categories in stable order.
func Categories() []Category {
	return []Category{CategoryBully, CategoryHarassment, CategoryProfanity}
}

// Validate checks if the category is one of the known ones.
func (c Category) Validate() error {
	switch c {
	case CategoryBully, CategoryHarassment, CategoryProfanity:
		return nil
	}
	return fmt.Errorf("invalid category: %s", c)
}

func (c Category) String() string { return string(c) }

// Request is a message to check for violations.
type Request struct {
	Msg      string `json:"msg"`       // message text to check
	UserID   string `json:"user_id"`   // sender id
	UserName string `json:"user_name"` // sender name
	MsgID    string `json:"msg_id"`    // message id, used as violation id
}

func (r *Request) String() string {
	return fmt.Sprintf("msg:%q, user:%q, id:%s", r.Msg, r.UserName, r.UserID)
}

// Verdict is a result of message classification across all categories.
type Verdict struct {
	Bully      bool                  `json:"bully"`
	Harassment bool                  `json:"harassment"`
	Profanity  bool                  `json:"profanity"`
	Found      map[Category][]string `json:"found,omitempty"` // matched tokens per category
}

// HasViolation returns true if any category was flagged.
func (v *Verdict) HasViolation() bool { return v.Bully || v.Harassment || v.Profanity }

func (v *Verdict) String() string {
	if !v.HasViolation() {
		return "clean"
	}
	elems := []string{}
	for _, cat := range Categories() {
		if tokens := v.Found[cat]; len(tokens) > 0 {
			elems = append(elems, fmt.Sprintf("%s: [%s]", cat, strings.Join(tokens, ", ")))
		}
	}
	return strings.Join(elems, ", ")
}
