package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const feedPageHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Decisions · FraudSwarm</title>
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        :root {
            --bg: #09090b; --bg-subtle: #18181b; --border: #27272a;
            --text: #fafafa; --text-secondary: #a1a1aa; --text-tertiary: #52525b;
            --approve: #22c55e; --challenge: #eab308; --block: #ef4444;
        }
        body {
            font-family: -apple-system, 'Segoe UI', sans-serif;
            background: var(--bg); color: var(--text);
            min-height: 100vh; font-size: 14px;
        }
        .mono { font-family: ui-monospace, 'SFMono-Regular', monospace; }
        .container { max-width: 900px; margin: 0 auto; padding: 0 24px; }
        header { border-bottom: 1px solid var(--border); padding: 16px 0; }
        .header-inner { display: flex; justify-content: space-between; align-items: center; }
        .logo { font-weight: 600; font-size: 15px; }
        .live-badge {
            display: flex; align-items: center; gap: 8px;
            background: var(--bg-subtle); border: 1px solid var(--border);
            padding: 6px 12px; border-radius: 20px; font-size: 13px; color: var(--text-secondary);
        }
        .live-dot { width: 8px; height: 8px; border-radius: 50%; background: var(--text-tertiary); }
        .live-dot.on { background: var(--approve); animation: pulse 2s ease-in-out infinite; }
        @keyframes pulse { 0%, 100% { opacity: 1; } 50% { opacity: 0.4; } }
        .filters { display: flex; gap: 8px; padding: 24px 0 16px; }
        .filters button {
            background: var(--bg-subtle); color: var(--text-secondary); border: 1px solid var(--border);
            padding: 6px 12px; border-radius: 6px; cursor: pointer;
        }
        .filters button.active { color: var(--text); border-color: var(--text-secondary); }
        .tx {
            display: grid; grid-template-columns: 110px 1fr auto; gap: 16px;
            padding: 16px 0; border-bottom: 1px solid var(--border); align-items: start;
        }
        .decision { font-weight: 600; font-size: 12px; padding: 4px 8px; border-radius: 4px; text-align: center; }
        .APPROVE { color: var(--approve); border: 1px solid var(--approve); }
        .CHALLENGE { color: var(--challenge); border: 1px solid var(--challenge); }
        .BLOCK { color: var(--block); border: 1px solid var(--block); }
        .tx-title { font-weight: 500; margin-bottom: 6px; }
        .tx-reason { color: var(--text-secondary); font-size: 12px; line-height: 1.6; }
        .ring { color: var(--block); font-weight: 600; font-size: 12px; margin-bottom: 4px; }
        .tx-right { text-align: right; }
        .tx-score { font-size: 18px; font-weight: 600; }
        .tx-time { font-size: 12px; color: var(--text-tertiary); margin-top: 4px; }
        .empty { text-align: center; padding: 80px 24px; color: var(--text-tertiary); }
    </style>
</head>
<body>
    <header><div class="container header-inner">
        <span class="logo">FraudSwarm</span>
        <div class="live-badge"><span class="live-dot" id="dot"></span><span id="status">Connecting</span></div>
    </div></header>
    <main class="container">
        <div class="filters" id="filters">
            <button data-d="" class="active">All</button>
            <button data-d="CHALLENGE">Challenge</button>
            <button data-d="BLOCK">Block</button>
        </div>
        <div id="feed"><div class="empty">Waiting for decisions...</div></div>
    </main>
    <script>
        const MAX = 100;
        const feed = document.getElementById('feed');
        let ws, decisions = [];

        const esc = s => String(s ?? '').replace(/[&<>"']/g, c => ({'&':'&amp;','<':'&lt;','>':'&gt;','"':'&quot;',"'":'&#39;'}[c]));

        function row(a) {
            const reasons = (a.reasoning || '').split(' | ').map(esc).join('<br>');
            return '<div class="tx">' +
                '<div class="decision ' + esc(a.decision) + '">' + esc(a.decision) + '</div>' +
                '<div>' +
                    (a.fraud_ring_detected ? '<div class="ring">FRAUD RING</div>' : '') +
                    '<div class="tx-title">' + esc(a.user_id) + ' &middot; ' + Number(a.amount).toFixed(2) + ' at ' + esc(a.merchant) + '</div>' +
                    '<div class="tx-reason">' + reasons + '</div>' +
                '</div>' +
                '<div class="tx-right">' +
                    '<div class="tx-score mono">' + Number(a.risk_score).toFixed(3) + '</div>' +
                    '<div class="tx-time">' + new Date(a.analyzed_at).toLocaleTimeString() + '</div>' +
                '</div>' +
            '</div>';
        }

        function add(ev) {
            if (!ev.analysis) return;
            if (!decisions.length) feed.innerHTML = '';
            decisions.unshift(ev.analysis);
            feed.insertAdjacentHTML('afterbegin', row(ev.analysis));
            if (decisions.length > MAX) { decisions.pop(); feed.lastElementChild.remove(); }
        }

        function subscribe(decision) {
            const sub = decision ? { decisions: [decision] } : { all_events: true };
            if (ws && ws.readyState === WebSocket.OPEN) ws.send(JSON.stringify(sub));
        }

        function connect() {
            const proto = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(proto + location.host + '/ws');
            ws.onopen = () => {
                document.getElementById('dot').className = 'live-dot on';
                document.getElementById('status').textContent = 'Live';
                subscribe(document.querySelector('.filters .active').dataset.d);
            };
            ws.onmessage = m => add(JSON.parse(m.data));
            ws.onclose = () => {
                document.getElementById('dot').className = 'live-dot';
                document.getElementById('status').textContent = 'Reconnecting';
                setTimeout(connect, 2000);
            };
        }

        document.getElementById('filters').addEventListener('click', e => {
            if (e.target.tagName !== 'BUTTON') return;
            document.querySelectorAll('.filters button').forEach(b => b.classList.remove('active'));
            e.target.classList.add('active');
            subscribe(e.target.dataset.d);
        });

        connect();
    </script>
</body>
</html>`

func feedPageHandler(c *gin.Context) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.String(http.StatusOK, feedPageHTML)
}
