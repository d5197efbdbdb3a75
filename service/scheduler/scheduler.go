package scheduler

import (
	"context"

	"github.com/robfig/cron/v3"

	"github.com/YlovexLN/Pallas-Bot/logger"
	"github.com/YlovexLN/Pallas-Bot/module/repeater/chat"
	"github.com/YlovexLN/Pallas-Bot/service/botconfig"
	"github.com/YlovexLN/Pallas-Bot/service/natsx"
)

// Scheduler 维护任务：主动发言、持久化、context 清理、黑名单共识刷新
type Scheduler struct {
	cron   *cron.Cron
	engine *chat.Engine
	bots   *botconfig.Service
	bus    *natsx.Manager
}

func New(engine *chat.Engine, bots *botconfig.Service, bus *natsx.Manager) *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		engine: engine,
		bots:   bots,
		bus:    bus,
	}
}

func (s *Scheduler) Start() error {
	jobs := []struct {
		spec string
		run  func()
	}{
		{"@every 1m", s.speakUp},
		{"0 4 * * *", s.updateData},
		{"@hourly", s.refreshBlacklist},
	}
	for _, j := range jobs {
		if _, err := s.cron.AddFunc(j.spec, j.run); err != nil {
			return err
		}
	}
	s.cron.Start()
	return nil
}

func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) speakUp() {
	ret, err := s.engine.Speak(context.Background())
	if err != nil {
		logger.Errorf("[scheduler] speak failed: %v", err)
		return
	}
	if ret == nil {
		return
	}

	out := &natsx.OutboundMessage{
		Type:       natsx.OutSpeak,
		BotID:      ret.BotID,
		GroupID:    ret.GroupID,
		Messages:   ret.Messages,
		PokeUserID: ret.PokeUserID,
	}
	if err := s.bus.Publish(natsx.SubjectOutbound, natsx.Encode(out)); err != nil {
		logger.Errorf("[scheduler] publish speak failed: %v", err)
	}
}

// updateData 凌晨四点，落库、清理、全员醒酒
func (s *Scheduler) updateData() {
	ctx := context.Background()
	if err := s.engine.Sync(ctx); err != nil {
		logger.Errorf("[scheduler] sync failed: %v", err)
	}
	if err := s.engine.ClearUpContext(ctx); err != nil {
		logger.Errorf("[scheduler] clearup context failed: %v", err)
	}
	s.bots.FullySoberUp(ctx)
}

func (s *Scheduler) refreshBlacklist() {
	if err := s.engine.UpdateGlobalBlacklist(context.Background()); err != nil {
		logger.Errorf("[scheduler] update global blacklist failed: %v", err)
	}
}
