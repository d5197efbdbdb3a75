package onebot

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/YlovexLN/Pallas-Bot/logger"
	"github.com/YlovexLN/Pallas-Bot/module/status"
	"github.com/YlovexLN/Pallas-Bot/service/botconfig"
	"github.com/YlovexLN/Pallas-Bot/service/natsx"
)

const (
	apiTimeout = 5 * time.Second
	// 单群记多少条 message_id 用于去重，超了就批量扔掉最老的
	dedupCap   = 100
	dedupBatch = 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Gateway OneBot v11 反向 WebSocket 网关。
// 牛牛客户端连上来，事件进 NATS，核心算好的回复从 NATS 回来再发出去。
type Gateway struct {
	bus      *natsx.Manager
	bots     *botconfig.Service
	status   *status.Service
	callName string

	mu    sync.Mutex
	conns map[int64]*botConn

	dedupMu sync.Mutex
	seen    map[int64][]int64 // group -> 近期 message_id

	echoMu  sync.Mutex
	echoSeq int64
	pending map[int64]chan *frame
}

type botConn struct {
	id int64
	ws *websocket.Conn

	writeMu sync.Mutex
}

func NewGateway(bus *natsx.Manager, bots *botconfig.Service, st *status.Service, callName string) *Gateway {
	return &Gateway{
		bus:      bus,
		bots:     bots,
		status:   st,
		callName: callName,
		conns:    map[int64]*botConn{},
		seen:     map[int64][]int64{},
		pending:  map[int64]chan *frame{},
	}
}

// RegisterRoutes 挂载 WebSocket 端点
func (g *Gateway) RegisterRoutes(r gin.IRouter) {
	r.GET("/onebot/v11/ws", g.handleWS)
}

// Start 订阅出站消息
func (g *Gateway) Start() error {
	return g.bus.Subscribe(natsx.SubjectOutbound, g.handleOutbound)
}

// OnlineBots 当前在线的账号
func (g *Gateway) OnlineBots() []int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]int64, 0, len(g.conns))
	for id := range g.conns {
		out = append(out, id)
	}
	return out
}

// ===== 连接管理 =====

func (g *Gateway) handleWS(c *gin.Context) {
	selfID, err := strconv.ParseInt(c.GetHeader("X-Self-ID"), 10, 64)
	if err != nil || selfID == 0 {
		c.String(400, "missing X-Self-ID")
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Errorf("[onebot] upgrade failed for bot [%d]: %v", selfID, err)
		return
	}

	conn := &botConn{id: selfID, ws: ws}
	g.mu.Lock()
	if old, ok := g.conns[selfID]; ok {
		_ = old.ws.Close()
	}
	g.conns[selfID] = conn
	g.mu.Unlock()

	g.status.HandleConnect(selfID)
	go g.readPump(conn)
}

func (g *Gateway) readPump(conn *botConn) {
	defer func() {
		g.mu.Lock()
		if g.conns[conn.id] == conn {
			delete(g.conns, conn.id)
		}
		g.mu.Unlock()
		_ = conn.ws.Close()
	}()

	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			g.status.HandleDisconnect(context.Background(), conn.id, err.Error())
			return
		}
		g.dispatch(conn, data)
	}
}

func (g *Gateway) dispatch(conn *botConn, data []byte) {
	f := &frame{}
	if err := json.Unmarshal(data, f); err != nil {
		logger.Warnf("[onebot] bad frame from bot [%d]: %v", conn.id, err)
		return
	}

	// API 响应
	if f.Echo != nil {
		g.echoMu.Lock()
		ch, ok := g.pending[*f.Echo]
		if ok {
			delete(g.pending, *f.Echo)
		}
		g.echoMu.Unlock()
		if ok {
			ch <- f
		}
		return
	}

	switch {
	case f.PostType == "message" && f.MessageType == "group":
		g.handleGroupMessage(conn, f)
	case f.PostType == "notice" && f.NoticeType == "group_recall":
		g.handleRecall(conn, f)
	}
}

// ===== 事件处理 =====

func (g *Gateway) handleGroupMessage(conn *botConn, f *frame) {
	toLearn := g.markSeen(f.GroupID, f.MessageID)

	plain := plainText(f.RawMessage)
	ev := &natsx.InboundEvent{
		Type:       natsx.EventMessage,
		BotID:      f.SelfID,
		GroupID:    f.GroupID,
		UserID:     f.UserID,
		MessageID:  f.MessageID,
		Time:       f.Time,
		RawMessage: f.RawMessage,
		PlainText:  plain,
		ToMe:       isToMe(f.RawMessage, plain, f.SelfID, g.callName),
		SenderRole: f.Sender.Role,
		ToLearn:    toLearn,
	}

	// 引用回复 + “不可以”：把被回复的那条消息查出来带给核心
	if id := replyID(f.RawMessage); id != 0 && strings.Contains(plain, "不可以") {
		if raw, err := g.GetMsg(conn.id, id); err == nil {
			ev.RepliedRaw = stripURL(raw)
			// 原消息顺手撤了，失败也不要紧
			if err := g.DeleteMsg(conn.id, id); err != nil {
				logger.Warnf("[onebot] bot [%d] failed to delete msg [%d]: %v", conn.id, id, err)
			}
		} else {
			logger.Warnf("[onebot] bot [%d] failed to get msg [%d]: %v", conn.id, id, err)
		}
	}

	if err := g.bus.Publish(natsx.SubjectInbound, natsx.Encode(ev)); err != nil {
		logger.Errorf("[onebot] publish inbound failed: %v", err)
	}
}

// handleRecall 管理员撤回了牛牛自己的消息，视为拉黑指令
func (g *Gateway) handleRecall(conn *botConn, f *frame) {
	if f.UserID != f.SelfID || f.OperatorID == f.SelfID {
		return
	}

	member, err := g.groupMemberInfo(conn.id, f.GroupID, f.OperatorID)
	if err != nil || (member.Role != "owner" && member.Role != "admin") {
		return
	}

	raw, err := g.GetMsg(conn.id, f.MessageID)
	if err != nil {
		logger.Warnf("[onebot] bot [%d] failed to get recalled msg [%d]: %v", conn.id, f.MessageID, err)
		return
	}

	ev := &natsx.InboundEvent{
		Type:       natsx.EventRecall,
		BotID:      f.SelfID,
		GroupID:    f.GroupID,
		UserID:     f.UserID,
		OperatorID: f.OperatorID,
		Time:       f.Time,
		RepliedRaw: stripURL(raw),
	}
	if err := g.bus.Publish(natsx.SubjectInbound, natsx.Encode(ev)); err != nil {
		logger.Errorf("[onebot] publish recall failed: %v", err)
	}
}

// markSeen 多账号登录同一群时，只有第一个收到消息的连接需要学习
func (g *Gateway) markSeen(groupID, messageID int64) bool {
	g.dedupMu.Lock()
	defer g.dedupMu.Unlock()

	ids := g.seen[groupID]
	for _, id := range ids {
		if id == messageID {
			return false
		}
	}
	ids = append(ids, messageID)
	if len(ids) > dedupCap {
		ids = append([]int64(nil), ids[dedupBatch:]...)
	}
	g.seen[groupID] = ids
	return true
}

// ===== 出站消息 =====

func (g *Gateway) handleOutbound(_ string, data []byte) {
	out := &natsx.OutboundMessage{}
	if err := natsx.Decode(data, out); err != nil {
		logger.Warnf("[onebot] bad outbound message: %v", err)
		return
	}
	go g.deliver(out)
}

func (g *Gateway) deliver(out *natsx.OutboundMessage) {
	ctx := context.Background()

	switch out.Type {
	case natsx.OutNotice:
		for _, msg := range out.Messages {
			if err := g.SendGroupMsg(out.BotID, out.GroupID, msg); err != nil {
				logger.Warnf("[onebot] bot [%d] send notice failed: %v", out.BotID, err)
			}
		}

	case natsx.OutSpeak:
		for _, msg := range out.Messages {
			logger.Infof("bot [%d] ready to speak [%.30s] to group [%d]", out.BotID, msg, out.GroupID)
			if err := g.SendGroupMsg(out.BotID, out.GroupID, msg); err != nil {
				logger.Warnf("[onebot] bot [%d] speak failed: %v", out.BotID, err)
				return
			}
			if out.PokeUserID != 0 {
				_ = g.GroupPoke(out.BotID, out.GroupID, out.PokeUserID)
			}
			time.Sleep(time.Duration(2+rand.Intn(4)) * time.Second)
		}

	case natsx.OutAnswer:
		delay := time.Duration(2+rand.Intn(4)) * time.Second
		for _, msg := range out.Messages {
			sendMsg := g.postProc(ctx, msg, out.BotID, out.GroupID)
			logger.Infof("bot [%d] ready to send [%.30s] to group [%d]", out.BotID, sendMsg, out.GroupID)

			time.Sleep(delay)
			g.bots.RefreshCooldown(ctx, "repeat", out.BotID, out.GroupID)
			if err := g.SendGroupMsg(out.BotID, out.GroupID, sendMsg); err != nil {
				g.handleSendFailed(ctx, out.BotID, out.GroupID, msg)
				return
			}
			delay = time.Duration(1+rand.Intn(3)) * time.Second
		}
	}
}

// postProc 发送前把 at 段换成 @昵称 的纯文本，改写过的原文同步给核心
func (g *Gateway) postProc(ctx context.Context, msg string, botID, groupID int64) string {
	newMsg := atQQRe.ReplaceAllStringFunc(msg, func(seg string) string {
		m := atQQRe.FindStringSubmatch(seg)
		userID, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return seg
		}
		member, err := g.groupMemberInfo(botID, groupID, userID)
		if err != nil {
			// 群员不存在
			return ""
		}
		name := member.Card
		if name == "" {
			name = member.Nickname
		}
		return "@" + name
	})

	if newMsg != msg {
		ev := &natsx.PostProcEvent{
			BotID:      botID,
			GroupID:    groupID,
			RawMessage: msg,
			NewMessage: newMsg,
		}
		if err := g.bus.Publish(natsx.SubjectPostProc, natsx.Encode(ev)); err != nil {
			logger.Warnf("[onebot] publish postproc failed: %v", err)
		}
	}
	return newMsg
}

// handleSendFailed 发送失败通常是消息失效了，账号状态安全且没被禁言时自动拉黑。
// 若 bot 处于风控期，请勿开启 security
func (g *Gateway) handleSendFailed(ctx context.Context, botID, groupID int64, msg string) {
	if !g.bots.Security(ctx, botID) {
		return
	}
	member, err := g.groupMemberInfo(botID, groupID, botID)
	if err != nil {
		return
	}
	if member.ShutUpTimestamp > time.Now().Unix() {
		logger.Infof("bot [%d] in group [%d] is shutup", botID, groupID)
		return
	}

	logger.Infof("bot [%d] ready to ban [%.30s] in group [%d]", botID, msg, groupID)
	ev := &natsx.InboundEvent{
		Type:      natsx.EventBan,
		BotID:     botID,
		GroupID:   groupID,
		Time:      time.Now().Unix(),
		BanRaw:    msg,
		BanReason: "ActionFailed",
	}
	if err := g.bus.Publish(natsx.SubjectInbound, natsx.Encode(ev)); err != nil {
		logger.Errorf("[onebot] publish ban failed: %v", err)
	}
}

// ===== OneBot API =====

func (g *Gateway) callAPI(botID int64, action string, params map[string]any) (*frame, error) {
	g.mu.Lock()
	conn, ok := g.conns[botID]
	g.mu.Unlock()
	if !ok {
		return nil, errors.Errorf("bot [%d] is offline", botID)
	}

	g.echoMu.Lock()
	g.echoSeq++
	echo := g.echoSeq
	ch := make(chan *frame, 1)
	g.pending[echo] = ch
	g.echoMu.Unlock()

	req := apiRequest{Action: action, Params: params, Echo: echo}
	conn.writeMu.Lock()
	err := conn.ws.WriteJSON(req)
	conn.writeMu.Unlock()
	if err != nil {
		g.echoMu.Lock()
		delete(g.pending, echo)
		g.echoMu.Unlock()
		return nil, errors.Wrapf(err, "call %s", action)
	}

	select {
	case resp := <-ch:
		if resp.Status == "failed" || resp.Retcode != 0 {
			return nil, errors.Errorf("%s failed, retcode %d", action, resp.Retcode)
		}
		return resp, nil
	case <-time.After(apiTimeout):
		g.echoMu.Lock()
		delete(g.pending, echo)
		g.echoMu.Unlock()
		return nil, errors.Errorf("%s timeout", action)
	}
}

func (g *Gateway) SendGroupMsg(botID, groupID int64, message string) error {
	_, err := g.callAPI(botID, "send_group_msg", map[string]any{
		"group_id": groupID,
		"message":  message,
	})
	return err
}

func (g *Gateway) GroupPoke(botID, groupID, userID int64) error {
	_, err := g.callAPI(botID, "group_poke", map[string]any{
		"group_id": groupID,
		"user_id":  userID,
	})
	return err
}

func (g *Gateway) DeleteMsg(botID, messageID int64) error {
	_, err := g.callAPI(botID, "delete_msg", map[string]any{
		"message_id": messageID,
	})
	return err
}

// GetMsg 查一条历史消息的原文（CQ 码形式）
func (g *Gateway) GetMsg(botID, messageID int64) (string, error) {
	resp, err := g.callAPI(botID, "get_msg", map[string]any{
		"message_id": messageID,
	})
	if err != nil {
		return "", err
	}
	var data struct {
		Message json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return "", errors.Wrap(err, "decode get_msg")
	}
	return decodeMessageField(data.Message), nil
}

type memberInfo struct {
	Card            string `json:"card"`
	Nickname        string `json:"nickname"`
	Role            string `json:"role"`
	ShutUpTimestamp int64  `json:"shut_up_timestamp"`
}

func (g *Gateway) groupMemberInfo(botID, groupID, userID int64) (*memberInfo, error) {
	resp, err := g.callAPI(botID, "get_group_member_info", map[string]any{
		"group_id": groupID,
		"user_id":  userID,
	})
	if err != nil {
		return nil, err
	}
	info := &memberInfo{}
	if err := json.Unmarshal(resp.Data, info); err != nil {
		return nil, errors.Wrap(err, "decode member info")
	}
	return info, nil
}
