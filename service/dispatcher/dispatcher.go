package dispatcher

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/YlovexLN/Pallas-Bot/logger"
	"github.com/YlovexLN/Pallas-Bot/module/repeater/chat"
	"github.com/YlovexLN/Pallas-Bot/service/botconfig"
	"github.com/YlovexLN/Pallas-Bot/service/natsx"
)

// 拉黑成功的回应
const banNotice = "这对角可能会不小心撞倒些家具，我会尽量小心。"

// Dispatcher 消费入站事件，跑学习和回复，结果丢回出站主题
type Dispatcher struct {
	engine *chat.Engine
	bots   *botconfig.Service
	bus    *natsx.Manager
}

func New(engine *chat.Engine, bots *botconfig.Service, bus *natsx.Manager) *Dispatcher {
	return &Dispatcher{engine: engine, bots: bots, bus: bus}
}

// Run 订阅入站事件和发送改写通知
func (d *Dispatcher) Run() error {
	if err := d.bus.QueueSubscribe(natsx.SubjectInbound, natsx.QueueRepeater, d.handleInbound); err != nil {
		return err
	}
	return d.bus.Subscribe(natsx.SubjectPostProc, d.handlePostProc)
}

func (d *Dispatcher) handleInbound(_ string, data []byte) {
	ev := &natsx.InboundEvent{}
	if err := natsx.Decode(data, ev); err != nil {
		logger.Warnf("[dispatcher] bad inbound event: %v", err)
		return
	}

	ctx := context.Background()
	switch ev.Type {
	case natsx.EventMessage:
		d.handleMessage(ctx, ev)
	case natsx.EventRecall:
		d.handleBan(ctx, ev.GroupID, ev.BotID, ev.RepliedRaw, fmt.Sprintf("recall by %d", ev.OperatorID), true)
	case natsx.EventBan:
		d.handleBan(ctx, ev.GroupID, ev.BotID, ev.BanRaw, ev.BanReason, false)
	}
}

func (d *Dispatcher) handleMessage(ctx context.Context, ev *natsx.InboundEvent) {
	if d.bots.IsGroupBanned(ctx, ev.GroupID) {
		return
	}

	if ev.ToMe && d.isAdmin(ctx, ev) {
		// 回复某条消息 + “不可以”
		if ev.RepliedRaw != "" && strings.Contains(ev.PlainText, "不可以") {
			logger.Infof("bot [%d] ready to ban [%.30s] in group [%d]", ev.BotID, ev.RepliedRaw, ev.GroupID)
			d.handleBan(ctx, ev.GroupID, ev.BotID, ev.RepliedRaw, strconv.FormatInt(ev.UserID, 10), true)
			return
		}
		// “不可以发这个”：拉黑最近一条回复
		if strings.TrimSpace(ev.PlainText) == "不可以发这个" {
			logger.Infof("bot [%d] ready to ban latest reply in group [%d]", ev.BotID, ev.GroupID)
			d.handleBan(ctx, ev.GroupID, ev.BotID, "", strconv.FormatInt(ev.UserID, 10), true)
			return
		}
	}

	record := d.engine.NewRecord(ev.GroupID, ev.UserID, ev.BotID, ev.RawMessage, ev.PlainText, ev.Time)
	// 网关对 @牛牛 的判定一并算数
	if ev.ToMe {
		record.ToMe = true
	}

	var answers []string
	if !d.bots.IsSleep(ctx, ev.BotID, ev.GroupID) &&
		d.bots.IsCooldown(ctx, "repeat", ev.BotID, ev.GroupID) {
		it, err := d.engine.Answer(ctx, record)
		if err != nil {
			logger.Errorf("[dispatcher] answer failed: %v", err)
		} else if it != nil {
			answers = it.Collect()
		}
	}

	if ev.ToLearn {
		if _, err := d.engine.Learn(ctx, record); err != nil {
			logger.Errorf("[dispatcher] learn failed: %v", err)
		}
	}

	if len(answers) == 0 {
		return
	}

	d.bots.RefreshCooldown(ctx, "repeat", ev.BotID, ev.GroupID)
	d.publish(&natsx.OutboundMessage{
		Type:     natsx.OutAnswer,
		BotID:    ev.BotID,
		GroupID:  ev.GroupID,
		Messages: answers,
	})
}

func (d *Dispatcher) handleBan(ctx context.Context, groupID, botID int64, banRaw, reason string, notify bool) {
	ok, err := d.engine.Ban(ctx, groupID, botID, banRaw, reason)
	if err != nil {
		logger.Errorf("[dispatcher] ban failed: %v", err)
		return
	}
	if ok && notify {
		d.publish(&natsx.OutboundMessage{
			Type:     natsx.OutNotice,
			BotID:    botID,
			GroupID:  groupID,
			Messages: []string{banNotice},
		})
	}
}

func (d *Dispatcher) handlePostProc(_ string, data []byte) {
	ev := &natsx.PostProcEvent{}
	if err := natsx.Decode(data, ev); err != nil {
		logger.Warnf("[dispatcher] bad postproc event: %v", err)
		return
	}
	if !d.engine.ReplyPostProc(ev.RawMessage, ev.NewMessage, ev.BotID, ev.GroupID) {
		logger.Warnf("bot [%d] post_proc failed in group [%d]: [%.30s] -> [%.30s]",
			ev.BotID, ev.GroupID, ev.RawMessage, ev.NewMessage)
	}
}

func (d *Dispatcher) isAdmin(ctx context.Context, ev *natsx.InboundEvent) bool {
	if ev.SenderRole == "owner" || ev.SenderRole == "admin" {
		return true
	}
	return d.bots.IsAdminOfBot(ctx, ev.BotID, ev.UserID)
}

func (d *Dispatcher) publish(out *natsx.OutboundMessage) {
	if err := d.bus.Publish(natsx.SubjectOutbound, natsx.Encode(out)); err != nil {
		logger.Errorf("[dispatcher] publish outbound failed: %v", err)
	}
}
