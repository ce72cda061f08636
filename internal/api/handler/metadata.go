package handler

import (
	"crypto/tls"
	"fmt"
	"net/http"

	"github.com/mssola/useragent"
	"golang.org/x/text/language"
)

// ServerMetadata collects what the server observes about a request. Keys
// are only present when the request supplies a value, so two requests with
// the same headers always produce the same map.
func ServerMetadata(r *http.Request) map[string]any {
	meta := map[string]any{}

	if ua := r.UserAgent(); ua != "" {
		meta["user_agent"] = ua
		addUserAgent(meta, ua)
	}

	if r.TLS != nil {
		meta["protocol"] = "https"
	} else {
		meta["protocol"] = "http"
	}
	meta["http_version"] = fmt.Sprintf("%d.%d", r.ProtoMajor, r.ProtoMinor)

	for key, header := range map[string]string{
		"accept":             "Accept",
		"accept_language":    "Accept-Language",
		"dnt":                "DNT",
		"sec_ch_ua":          "Sec-CH-UA",
		"sec_ch_ua_mobile":   "Sec-CH-UA-Mobile",
		"sec_ch_ua_platform": "Sec-CH-UA-Platform",
		"referer":            "Referer",
		"origin":             "Origin",
	} {
		if v := r.Header.Get(header); v != "" {
			meta[key] = v
		}
	}

	if langs := parseLanguages(r.Header.Get("Accept-Language")); len(langs) > 0 {
		meta["languages"] = langs
	}

	if t := tlsMetadata(r.TLS); len(t) > 0 {
		meta["tls"] = t
	}

	return meta
}

func addUserAgent(meta map[string]any, raw string) {
	ua := useragent.New(raw)

	browser := map[string]any{}
	name, version := ua.Browser()
	if name != "" {
		browser["name"] = name
	}
	if version != "" {
		browser["version"] = version
	}
	if len(browser) > 0 {
		meta["browser"] = browser
	}
	if os := ua.OS(); os != "" {
		meta["os"] = os
	}
	meta["mobile"] = ua.Mobile()
	meta["bot"] = ua.Bot()
}

// parseLanguages returns the Accept-Language tags in preference order.
// An unparseable header yields nothing.
func parseLanguages(header string) []any {
	if header == "" {
		return nil
	}
	tags, _, err := language.ParseAcceptLanguage(header)
	if err != nil {
		return nil
	}
	out := make([]any, 0, len(tags))
	for _, tag := range tags {
		out = append(out, tag.String())
	}
	return out
}

func tlsMetadata(cs *tls.ConnectionState) map[string]any {
	if cs == nil {
		return nil
	}
	meta := map[string]any{
		"version":      tls.VersionName(cs.Version),
		"cipher_suite": tls.CipherSuiteName(cs.CipherSuite),
	}
	if len(cs.PeerCertificates) > 0 {
		leaf := cs.PeerCertificates[0]
		meta["peer_subject"] = leaf.Subject.String()
		meta["peer_issuer"] = leaf.Issuer.String()
	}
	return meta
}
