package main

import "net/http"

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width,initial-scale=1">
<title>DeepWebIDE Collaboration Relay</title>
<meta name="description" content="Real-time collaboration relay for the DeepWebIDE editor">
<style>
*{margin:0;padding:0;box-sizing:border-box}
:root{
--bg:#191919;
--card:#242424;
--border:#333;
--fg:#e5e5e5;
--muted:#737373;
--radius:6px;
}
body{
font-family:system-ui,-apple-system,BlinkMacSystemFont,'Segoe UI',Roboto,Helvetica,Arial,sans-serif;
background:var(--bg);
color:var(--fg);
min-height:100vh;
display:flex;
align-items:center;
justify-content:center;
padding:24px;
}
.container{
width:100%;
max-width:440px;
display:flex;
flex-direction:column;
gap:24px;
}
.title{font-size:16px;font-weight:600;text-align:center}
.subtitle{font-size:11px;color:var(--muted);text-align:center;line-height:1.6}
.card{
background:var(--card);
border:1px solid var(--border);
border-radius:var(--radius);
padding:16px;
font-size:12px;
line-height:1.8;
}
.card code{color:var(--fg);background:var(--bg);padding:1px 5px;border-radius:3px}
.label{color:var(--muted)}
</style>
</head>
<body>
<div class="container">
<div>
<div class="title">DeepWebIDE Collaboration Relay</div>
<div class="subtitle">WebSocket fan-out for collaborative editing sessions</div>
</div>
<div class="card">
<div><span class="label">Editor room</span> <code>ws://host/repo-&lt;id&gt;-&lt;path&gt;</code></div>
<div><span class="label">File tree room</span> <code>ws://host/filetree-&lt;id&gt;</code></div>
<div><span class="label">Save point room</span> <code>ws://host/savepoint-&lt;id&gt;</code></div>
<div><span class="label">Health</span> <code>GET /health</code></div>
<div><span class="label">Status</span> <code>GET /api/status</code></div>
</div>
</div>
</body>
</html>`

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}
