package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

const pacContentType = "application/x-ns-proxy-autoconfig"

// PACHandler serves a proxy auto-config file so browsers can be pointed
// at the proxy with one URL.
type PACHandler struct {
	defaultProxy string
}

// NewPACHandler takes the host:port the PAC file should advertise when
// the request does not override it.
func NewPACHandler(defaultProxy string) *PACHandler {
	return &PACHandler{defaultProxy: defaultProxy}
}

// PAC renders the auto-config body. ?proxy=host:port overrides the
// advertised address, useful when the proxy sits behind NAT.
func (h *PACHandler) PAC(c *gin.Context) {
	proxy := c.Query("proxy")
	if proxy == "" {
		proxy = h.defaultProxy
	}
	body := fmt.Sprintf("function FindProxyForURL(url, host) {\n  return \"PROXY %s\";\n}\n", proxy)
	c.Data(http.StatusOK, pacContentType, []byte(body))
}
