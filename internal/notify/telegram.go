package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// 中文说明：
// Telegram 通知器：回测/优化任务结束后，把摘要推送到指定群/频道。

const telegramAPIBase = "https://api.telegram.org"

type Telegram struct {
	BotToken string
	ChatID   string
	Client   *http.Client

	apiBase string
	backoff time.Duration
}

func NewTelegram(botToken, chatID string) *Telegram {
	return &Telegram{
		BotToken: botToken,
		ChatID:   chatID,
		Client:   &http.Client{Timeout: 15 * time.Second},
		apiBase:  telegramAPIBase,
		backoff:  time.Second,
	}
}

// Enabled 指示该通知器是否配置完整。
func (t *Telegram) Enabled() bool {
	return t != nil && t.BotToken != "" && t.ChatID != ""
}

// SendText 发送文本消息，最多重试 3 次；ctx 取消时立即返回。
func (t *Telegram) SendText(ctx context.Context, text string) error {
	if !t.Enabled() {
		return fmt.Errorf("Telegram 配置不完整")
	}
	base := t.apiBase
	if base == "" {
		base = telegramAPIBase
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", base, t.BotToken)

	payload := map[string]any{
		"chat_id":    t.ChatID,
		"text":       text,
		"parse_mode": "Markdown",
	}
	body, _ := json.Marshal(payload)

	var lastErr error
	for i := 0; i < 3; i++ {
		if lastErr != nil {
			if err := sleepCtx(ctx, time.Duration(i)*t.backoff); err != nil {
				return err
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := t.Client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			continue
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode/100 == 2 {
			return nil
		}
		lastErr = fmt.Errorf("telegram status=%d", resp.StatusCode)
	}
	return lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
