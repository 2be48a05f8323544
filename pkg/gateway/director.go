package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httputil"
	"strings"

	"github.com/mnemom/aip/pkg/resilience"
)

// routePrefix returns the leading /anthropic, /openai, or /gemini
// segment a request arrives on; the Director strips it before
// forwarding upstream, the same one-line rewrite the CLI proxy applies
// for its single configured upstream, generalized to three.
func routePrefix(name string) string { return "/" + name }

func (g *Gateway) newReverseProxy(target ProviderTarget) *httputil.ReverseProxy {
	prefix := routePrefix(string(target.Name))

	proxy := &httputil.ReverseProxy{
		Director: func(req *http.Request) {
			st := requestStateFrom(req)

			req.URL.Scheme = target.BaseURL.Scheme
			req.URL.Host = target.BaseURL.Host
			req.URL.Path = target.BaseURL.Path + strings.TrimPrefix(req.URL.Path, prefix)
			req.Host = target.BaseURL.Host

			if st.Credential != "" {
				req.Header.Set(target.CredentialHeader, credentialValue(target, st.Credential))
			}

			if g.cfg.CFAIGToken != "" {
				req.Header.Set(cfAIGAuthorizationHeader, "Bearer "+g.cfg.CFAIGToken)
				meta, _ := json.Marshal(map[string]string{
					"account_id": st.AccountID,
					"agent_id":   st.Agent.ID,
				})
				req.Header.Set(cfAIGMetadataHeader, string(meta))
			}
		},
		ModifyResponse: g.modifyResponse,
		ErrorHandler:   g.errorHandler,
	}

	var rt http.RoundTripper = http.DefaultTransport
	if g.deps.Breakers != nil {
		rt = &resilience.Transport{Base: rt, Breaker: g.deps.Breakers.For(string(target.Name))}
	}
	proxy.Transport = rt

	return proxy
}

// credentialValue renders the forwarded credential in the shape the
// provider's own header expects: OpenAI still wants the Bearer prefix
// even though the gateway already stripped it off the inbound
// Authorization header during identity resolution.
func credentialValue(target ProviderTarget, credential string) string {
	if target.CredentialHeader == "Authorization" && !strings.HasPrefix(credential, "Bearer ") {
		return "Bearer " + credential
	}
	return credential
}

// errorHandler implements the pipeline's fail-open guarantee at the
// transport level: a dial failure or an open circuit breaker must
// still look like an ordinary upstream error to the caller, carrying
// the same X-AIP-Verdict: error signal ModifyResponse would have set
// had the request reached a response at all.
func (g *Gateway) errorHandler(w http.ResponseWriter, req *http.Request, err error) {
	g.logger.Error("gateway: upstream round trip failed", "error", err)
	w.Header().Set(HeaderVerdict, VerdictError)
	http.Error(w, "upstream unavailable", http.StatusBadGateway)
}
