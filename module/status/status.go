package status

import (
	"context"
	"fmt"
	"sync"
	"time"

	gomail "gopkg.in/gomail.v2"

	"github.com/YlovexLN/Pallas-Bot/global/config"
	"github.com/YlovexLN/Pallas-Bot/logger"
	"github.com/YlovexLN/Pallas-Bot/service/botconfig"
)

// Service 牛牛在线状态跟踪，掉线时邮件通知管理员
type Service struct {
	cfg  config.MailConfig
	bots *botconfig.Service

	mu      sync.Mutex
	offline map[int64]time.Time
}

func NewService(cfg config.MailConfig, bots *botconfig.Service) *Service {
	return &Service{
		cfg:     cfg,
		bots:    bots,
		offline: map[int64]time.Time{},
	}
}

// HandleConnect 牛牛上线
func (s *Service) HandleConnect(botID int64) {
	s.mu.Lock()
	delete(s.offline, botID)
	s.mu.Unlock()
	logger.Infof("[status] bot [%d] connected", botID)
}

// HandleDisconnect 牛牛掉线，只在状态翻转时发一次通知
func (s *Service) HandleDisconnect(ctx context.Context, botID int64, reason string) {
	s.mu.Lock()
	if _, already := s.offline[botID]; already {
		s.mu.Unlock()
		return
	}
	s.offline[botID] = time.Now()
	s.mu.Unlock()

	logger.Warnf("[status] bot [%d] disconnected: %s", botID, reason)
	if !s.mailReady() {
		return
	}

	recipients := []string{s.cfg.NoticeEmail}
	for _, adminID := range s.bots.Admins(ctx, botID) {
		recipients = append(recipients, fmt.Sprintf("%d@qq.com", adminID))
	}

	title := fmt.Sprintf("[牛牛不见啦] %d 已离线", botID)
	content := fmt.Sprintf(
		"离线原因: %s\n\n牛牛账号：%d\n掉线时间: %s\n",
		reason, botID, time.Now().Format("2006-01-02 15:04:05"),
	)

	go func() {
		for _, to := range recipients {
			if to == "" {
				continue
			}
			if err := s.sendMail(to, title, content); err != nil {
				logger.Errorf("[status] send offline mail to [%s] failed: %v", to, err)
			}
		}
	}()
}

// OfflineBots 当前掉线的账号与掉线时刻
func (s *Service) OfflineBots() map[int64]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]time.Time, len(s.offline))
	for id, t := range s.offline {
		out[id] = t
	}
	return out
}

func (s *Service) mailReady() bool {
	return s.cfg.Enabled &&
		s.cfg.SmtpServer != "" &&
		s.cfg.SmtpUser != "" &&
		s.cfg.SmtpPass != ""
}

func (s *Service) sendMail(to, title, content string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.cfg.SmtpUser)
	m.SetHeader("To", to)
	m.SetHeader("Subject", title)
	m.SetBody("text/plain", content)

	d := gomail.NewDialer(s.cfg.SmtpServer, s.cfg.SmtpPort, s.cfg.SmtpUser, s.cfg.SmtpPass)
	return d.DialAndSend(m)
}
