package remote

import (
	"context"
	"net/http"
	"net/url"

	"github.com/go-go-golems/chatmirror/pkg/conversation"
)

const (
	OpListConversations  = "list-conversations"
	OpListMessages       = "list-messages"
	OpCreateConversation = "create-conversation"
	OpUpdateTitle        = "update-title"
	OpDeleteConversation = "delete-conversation"
	OpSaveMessage        = "save-message"
	OpGetUserInfo        = "get-user-info"
)

func ConversationsPath() string { return "/conversations/" }

func MessagesPath(id string) string {
	return "/conversations/" + url.PathEscape(id) + "/messages/"
}

func CreateConversationPath() string { return "/conversations/create/" }

func UpdateTitlePath(id string) string {
	return "/conversations/" + url.PathEscape(id) + "/update-title/"
}

func DeleteConversationPath(id string) string {
	return "/conversations/" + url.PathEscape(id) + "/delete/"
}

func SaveMessagePath() string { return "/conversations/message/save/" }

func UserInfoPath() string { return "/getUserInfo/" }

type CreateConversationRequest struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type UpdateTitleRequest struct {
	Title string `json:"title"`
}

type SaveMessageRequest struct {
	ConversationID string            `json:"conversation_id"`
	Role           conversation.Role `json:"role"`
	Content        string            `json:"content"`
}

func (c *Client) call(ctx context.Context, req Request) (*Envelope, error) {
	env, err := c.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := env.Err(req.Op); err != nil {
		return env, err
	}
	return env, nil
}

// ListConversations fetches the full conversation list. Conversations
// without a messages field get an empty message slice.
func (c *Client) ListConversations(ctx context.Context) ([]*conversation.Conversation, error) {
	env, err := c.call(ctx, Request{Op: OpListConversations, Method: http.MethodGet, Path: ConversationsPath()})
	if err != nil {
		return nil, err
	}
	convs := []*conversation.Conversation{}
	if _, err := env.Decode("conversations", &convs); err != nil {
		return nil, &TransportError{Op: OpListConversations, Err: err}
	}
	for _, conv := range convs {
		if conv != nil && conv.Messages == nil {
			conv.Messages = []conversation.Message{}
		}
	}
	return convs, nil
}

// ListMessages fetches the message history of a conversation. A missing
// messages field is an empty history.
func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]conversation.Message, error) {
	env, err := c.call(ctx, Request{Op: OpListMessages, Method: http.MethodGet, Path: MessagesPath(conversationID)})
	if err != nil {
		return nil, err
	}
	msgs := []conversation.Message{}
	if _, err := env.Decode("messages", &msgs); err != nil {
		return nil, &TransportError{Op: OpListMessages, Err: err}
	}
	return msgs, nil
}

func (c *Client) CreateConversation(ctx context.Context, id string, title string) error {
	_, err := c.call(ctx, Request{
		Op:     OpCreateConversation,
		Method: http.MethodPost,
		Path:   CreateConversationPath(),
		Body:   CreateConversationRequest{ID: id, Title: title},
	})
	return err
}

func (c *Client) UpdateConversationTitle(ctx context.Context, id string, title string) error {
	_, err := c.call(ctx, Request{
		Op:     OpUpdateTitle,
		Method: http.MethodPut,
		Path:   UpdateTitlePath(id),
		Body:   UpdateTitleRequest{Title: title},
	})
	return err
}

func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	_, err := c.call(ctx, Request{
		Op:     OpDeleteConversation,
		Method: http.MethodDelete,
		Path:   DeleteConversationPath(id),
	})
	return err
}

// SaveMessage persists a single message of a conversation.
func (c *Client) SaveMessage(ctx context.Context, conversationID string, msg conversation.Message) error {
	_, err := c.call(ctx, Request{
		Op:     OpSaveMessage,
		Method: http.MethodPost,
		Path:   SaveMessagePath(),
		Body: SaveMessageRequest{
			ConversationID: conversationID,
			Role:           msg.Role,
			Content:        msg.Content,
		},
	})
	return err
}

// GetUserInfo returns the userInfo object of the authenticated user.
func (c *Client) GetUserInfo(ctx context.Context) (map[string]any, error) {
	env, err := c.call(ctx, Request{Op: OpGetUserInfo, Method: http.MethodGet, Path: UserInfoPath()})
	if err != nil {
		return nil, err
	}
	info := map[string]any{}
	if _, err := env.Decode("userInfo", &info); err != nil {
		return nil, &TransportError{Op: OpGetUserInfo, Err: err}
	}
	return info, nil
}
