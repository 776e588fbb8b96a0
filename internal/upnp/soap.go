package upnp

import (
	"fmt"
	"html"
	"net/http"
	"regexp"
	"strings"
)

// SOAP fault codes used by the renderer. 701 doubles as "not authorized"
// and "no media", matching how DLNA controllers treat it in practice.
const (
	faultInvalidArgs       = 402
	faultBadSID            = 412
	faultNotAvailable      = 701
	faultNoSeekSupport     = 712
	faultInvalidSeekTarget = 714
)

var soapActionRe = regexp.MustCompile(`<u:(\w+)`)

// parseSOAPAction extracts the action name from a control request body.
func parseSOAPAction(body string) string {
	match := soapActionRe.FindStringSubmatch(body)
	if match == nil {
		return ""
	}
	return match[1]
}

// soapResponse wraps an action response body in a SOAP envelope.
func soapResponse(action, service, params string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/">
  <s:Body><u:%sResponse xmlns:u="urn:schemas-upnp-org:service:%s:1">%s</u:%sResponse></s:Body>
</s:Envelope>`, action, service, params, action)
}

// soapFault renders a UPnPError envelope.
func soapFault(code int, description string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/">
  <s:Body>
    <s:Fault>
      <faultcode>s:Client</faultcode>
      <faultstring>UPnPError</faultstring>
      <detail>
        <UPnPError xmlns="urn:schemas-upnp-org:control-1-0">
          <errorCode>%d</errorCode>
          <errorDescription>%s</errorDescription>
        </UPnPError>
      </detail>
    </s:Fault>
  </s:Body>
</s:Envelope>`, code, xmlEscape(description))
}

func writeXML(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", `text/xml; charset="utf-8"`)
	w.WriteHeader(status)
	w.Write([]byte(body))
}

func writeSOAP(w http.ResponseWriter, body string) {
	writeXML(w, http.StatusOK, body)
}

func writeFault(w http.ResponseWriter, code int, description string) {
	writeXML(w, http.StatusInternalServerError, soapFault(code, description))
}

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

func xmlEscape(s string) string { return xmlEscaper.Replace(s) }

// xmlUnescape decodes XML and HTML entities; DLNA controllers send both.
func xmlUnescape(s string) string { return html.UnescapeString(s) }

// soapArg extracts the text of one argument element from a request body.
func soapArg(body, name string) (string, bool) {
	re := regexp.MustCompile(`<` + name + `[^>]*>([^<]*)</` + name + `>`)
	match := re.FindStringSubmatch(body)
	if match == nil {
		return "", false
	}
	return match[1], true
}
