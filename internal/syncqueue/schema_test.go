package syncqueue

import (
	"errors"
	"testing"
)

func TestValidatorAcceptsCompletePayloads(t *testing.T) {
	v := DefaultPayloadValidator()
	cases := map[OperationKind]OperationPayload{
		KindAddReaction: {
			ArticleID:    "article_1",
			UserID:       "user_1",
			ReactionType: "like",
			AuthToken:    "token_1",
		},
		KindRemoveReaction: {
			ReactionID: "reaction_1",
			AuthToken:  "token_1",
		},
		KindAddComment: {
			ArticleID: "article_1",
			UserID:    "user_1",
			Content:   "first",
			AuthToken: "token_1",
		},
		KindDeleteComment: {
			CommentID: "comment_1",
			AuthToken: "token_1",
		},
		KindUpdateArticle: {
			ArticleID: "article_1",
			Updates:   map[string]any{"view_count": 10},
			AuthToken: "token_1",
		},
	}
	for kind, payload := range cases {
		if err := v.Validate(kind, payload); err != nil {
			t.Fatalf("%s: unexpected rejection: %v", kind, err)
		}
	}
}

func TestValidatorRejectsMissingRequiredFields(t *testing.T) {
	v := DefaultPayloadValidator()
	cases := map[OperationKind]OperationPayload{
		KindAddReaction:    {ArticleID: "article_1", UserID: "user_1", AuthToken: "token_1"},
		KindRemoveReaction: {AuthToken: "token_1"},
		KindAddComment:     {ArticleID: "article_1", UserID: "user_1", AuthToken: "token_1"},
		KindDeleteComment:  {AuthToken: "token_1"},
		KindUpdateArticle:  {ArticleID: "article_1", AuthToken: "token_1"},
	}
	for kind, payload := range cases {
		if err := v.Validate(kind, payload); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("%s: expected ErrInvalidInput, got %v", kind, err)
		}
	}
}

func TestValidatorRejectsEmptyUpdates(t *testing.T) {
	err := DefaultPayloadValidator().Validate(KindUpdateArticle, OperationPayload{
		ArticleID: "article_1",
		Updates:   map[string]any{},
		AuthToken: "token_1",
	})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestValidatorRejectsMissingAuthToken(t *testing.T) {
	err := DefaultPayloadValidator().Validate(KindAddComment, OperationPayload{
		ArticleID: "article_1",
		UserID:    "user_1",
		Content:   "unauthenticated",
	})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestValidatorUnknownKind(t *testing.T) {
	err := DefaultPayloadValidator().Validate(OperationKind("set_mood"), OperationPayload{})
	if !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
}
