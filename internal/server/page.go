package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const indexHTML = `<!DOCTYPE html>
<html lang="ja">
<head>
    <meta charset="UTF-8">
    <title>kikimimi</title>
</head>
<body>
    <h1>kikimimi</h1>
    <p>サーバーが正常に起動しています。</p>
    <img src="/api/camera/stream" alt="camera" width="640">
    <form id="say">
        <input name="phrase" placeholder="読み上げる文章">
        <button type="submit">読み上げ</button>
    </form>
    <ul>
        <li>ステータス: <a href="/api/status">/api/status</a></li>
        <li>ヘルスチェック: <a href="/health">/health</a></li>
        <li>メトリクス: <a href="/metrics">/metrics</a></li>
    </ul>
    <script>
        document.getElementById("say").addEventListener("submit", function (e) {
            e.preventDefault();
            fetch("/api/speaker/say", {
                method: "POST",
                headers: {"Content-Type": "application/json"},
                body: JSON.stringify({phrase: e.target.phrase.value})
            });
            e.target.reset();
        });
    </script>
</body>
</html>`

// handleRoot はルートパスのハンドラ
func (s *Server) handleRoot(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(indexHTML))
}
