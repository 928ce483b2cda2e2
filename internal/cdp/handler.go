package cdp

import (
	"context"
	"time"

	adapter "requestx/internal/adapter/cdp"

	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"
)

// consume 持续接收拦截事件并按并发限制分发处理
func (m *Manager) consume(ts *targetSession) {
	rp, err := ts.client.Fetch.RequestPaused(ts.ctx)
	if err != nil {
		m.log.Err(err, "订阅拦截事件流失败", "target", string(ts.id))
		m.handleTargetStreamClosed(ts, err)
		return
	}
	defer rp.Close()

	m.log.Info("开始消费拦截事件流", "target", string(ts.id))
	for {
		ev, err := rp.Recv()
		if err != nil {
			m.handleTargetStreamClosed(ts, err)
			return
		}
		m.dispatchPaused(ts, ev)
	}
}

// dispatchPaused 并发已满时直接放行
func (m *Manager) dispatchPaused(ts *targetSession, ev *fetch.RequestPausedReply) {
	if !m.sem.TryAcquire(1) {
		m.degradeAndContinue(ts, ev, "并发队列已满")
		return
	}
	go func() {
		defer m.sem.Release(1)
		m.handle(ts, ev)
	}()
}

// handle 处理一次拦截事件
func (m *Manager) handle(ts *targetSession, ev *fetch.RequestPausedReply) {
	ctx, cancel := context.WithTimeout(ts.ctx, m.processTimeout)
	defer cancel()
	start := time.Now()

	if ev.ResponseErrorReason != nil {
		m.continueRequest(ctx, ts, ev, nil)
		return
	}
	if adapter.IsResponseStage(ev) {
		m.handleResponse(ctx, ts, ev)
	} else {
		m.handleRequest(ctx, ts, ev)
	}
	m.log.Debug("拦截事件处理完成", "target", string(ts.id), "url", ev.Request.URL, "duration", time.Since(start))
}

// handleRequest 取消、重定向、替换内容或修改请求头
func (m *Manager) handleRequest(ctx context.Context, ts *targetSession, ev *fetch.RequestPausedReply) {
	d := adapter.ToRequestDetails(ev, ts.tabID)
	dec := m.handler.HandleRequest(ts.id, d)

	var err error
	switch {
	case dec.Cancel:
		err = ts.client.Fetch.FailRequest(ctx, &fetch.FailRequestArgs{
			RequestID:   ev.RequestID,
			ErrorReason: network.ErrorReasonBlockedByClient,
		})
	case dec.RedirectURL != "":
		err = m.fulfillRedirect(ctx, ts, ev, dec.RedirectURL)
	case dec.Headers != nil:
		err = m.continueRequest(ctx, ts, ev, adapter.ToHeaderEntries(dec.Headers))
	default:
		err = m.continueRequest(ctx, ts, ev, nil)
	}
	if err != nil {
		m.log.Err(err, "应用请求指令失败", "target", string(ts.id), "url", d.URL)
		m.degradeAndContinue(ts, ev, err.Error())
	}
}

// fulfillRedirect data: URL 直接以内容响应，其它目标返回 307
func (m *Manager) fulfillRedirect(ctx context.Context, ts *targetSession, ev *fetch.RequestPausedReply, target string) error {
	if ct, body, err := adapter.DecodeDataURL(target); err == nil {
		return ts.client.Fetch.FulfillRequest(ctx, &fetch.FulfillRequestArgs{
			RequestID:    ev.RequestID,
			ResponseCode: 200,
			ResponseHeaders: []fetch.HeaderEntry{
				{Name: "Content-Type", Value: ct},
				{Name: "Access-Control-Allow-Origin", Value: "*"},
			},
			Body: body,
		})
	}
	return ts.client.Fetch.FulfillRequest(ctx, &fetch.FulfillRequestArgs{
		RequestID:       ev.RequestID,
		ResponseCode:    307,
		ResponseHeaders: []fetch.HeaderEntry{{Name: "Location", Value: target}},
	})
}

// handleResponse 修改响应头并处理 Set-Cookie
func (m *Manager) handleResponse(ctx context.Context, ts *targetSession, ev *fetch.RequestPausedReply) {
	d := adapter.ToRequestDetails(ev, ts.tabID)
	dec := m.handler.HandleResponse(ts.id, d)

	args := &fetch.ContinueResponseArgs{RequestID: ev.RequestID}
	if dec.Headers != nil {
		args.ResponseHeaders = adapter.ToHeaderEntries(dec.Headers)
	}
	if err := ts.client.Fetch.ContinueResponse(ctx, args); err != nil {
		m.log.Err(err, "应用响应指令失败", "target", string(ts.id), "url", d.URL)
		m.degradeAndContinue(ts, ev, err.Error())
	}
}

func (m *Manager) continueRequest(ctx context.Context, ts *targetSession, ev *fetch.RequestPausedReply, headers []fetch.HeaderEntry) error {
	return ts.client.Fetch.ContinueRequest(ctx, &fetch.ContinueRequestArgs{RequestID: ev.RequestID, Headers: headers})
}

// handleTargetStreamClosed 处理单个目标的拦截流终止
func (m *Manager) handleTargetStreamClosed(ts *targetSession, err error) {
	if !m.enabled.Load() || ts.ctx.Err() != nil {
		m.log.Info("停止目标事件消费", "target", string(ts.id))
		return
	}
	m.log.Warn("拦截流被中断，自动移除目标", "target", string(ts.id), "error", err)

	m.targetsMu.Lock()
	cur, ok := m.targets[ts.id]
	if ok && cur == ts {
		delete(m.targets, ts.id)
	}
	m.targetsMu.Unlock()
	if ok && cur == ts {
		m.closeTargetSession(ts)
	}
}

// degradeAndContinue 统一的降级处理：直接放行请求
func (m *Manager) degradeAndContinue(ts *targetSession, ev *fetch.RequestPausedReply, reason string) {
	m.log.Warn("执行降级策略：直接放行", "target", string(ts.id), "reason", reason, "requestID", ev.RequestID)
	ctx, cancel := context.WithTimeout(ts.ctx, time.Second)
	defer cancel()
	var err error
	if adapter.IsResponseStage(ev) && ev.ResponseErrorReason == nil {
		err = ts.client.Fetch.ContinueResponse(ctx, &fetch.ContinueResponseArgs{RequestID: ev.RequestID})
	} else {
		err = m.continueRequest(ctx, ts, ev, nil)
	}
	if err != nil {
		m.log.Err(err, "降级放行失败", "target", string(ts.id))
	}
	m.handler.Degrade(ts.id, adapter.ToRequestDetails(ev, ts.tabID), reason)
}
