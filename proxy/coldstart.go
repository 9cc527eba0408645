package proxy

import (
	"fmt"
	"html"
)

// ColdStartPage renders the HTML shown to a browser navigation while host is
// starting. The front-end advertises the retry interval via the Retry-After
// response header rather than a refresh meta tag, but the page still carries
// a matching meta refresh as a fallback for clients that ignore the header.
func ColdStartPage(host string) []byte {
	escaped := html.EscapeString(host)
	return []byte(fmt.Sprintf(coldStartTemplate, escaped, escaped))
}

const coldStartTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta http-equiv="refresh" content="2">
<title>Starting %s</title>
<style>
  body {
    margin: 0;
    display: flex;
    align-items: center;
    justify-content: center;
    height: 100vh;
    font-family: system-ui, sans-serif;
    background: #0b0b0f;
    color: #eaeaea;
  }
  @media (prefers-color-scheme: light) {
    body { background: #fafafa; color: #111; }
  }
  .box { text-align: center; }
  .spinner {
    width: 48px;
    height: 48px;
    margin: 0 auto 16px;
    border-radius: 50%%;
    background: currentColor;
    animation: pulse 1.4s ease-in-out infinite;
    opacity: 0.6;
  }
  @keyframes pulse {
    0%%, 100%% { opacity: 0.3; transform: scale(0.9); }
    50%% { opacity: 0.9; transform: scale(1.05); }
  }
</style>
</head>
<body>
<div class="box">
  <div class="spinner"></div>
  <p>Starting <strong>%s</strong>&hellip;</p>
</div>
</body>
</html>
`
