package main

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

func doSessionCreate(ctx context.Context, cfg cliConfig, out any) error {
	if cfg.Transport == "uds" {
		return newRPCClient(cfg.Socket).call(ctx, "session.create", nil, out)
	}
	return newAPIClient(cfg.Server).request(ctx, http.MethodPost, "/api/sessions", nil, out)
}

func doSessionList(ctx context.Context, cfg cliConfig, limit int, out any) error {
	if cfg.Transport == "uds" {
		return newRPCClient(cfg.Socket).call(ctx, "session.list", map[string]any{"limit": limit}, out)
	}
	return newAPIClient(cfg.Server).request(ctx, http.MethodGet, "/api/sessions?limit="+strconv.Itoa(limit), nil, out)
}

func doSessionShow(ctx context.Context, cfg cliConfig, id string, wait bool, out any) error {
	if cfg.Transport == "uds" {
		return newRPCClient(cfg.Socket).call(ctx, "session.show", map[string]any{"session": id, "wait": wait}, out)
	}
	path := sessionPath(id, "")
	if wait {
		path += "?wait=1"
	}
	return newAPIClient(cfg.Server).request(ctx, http.MethodGet, path, nil, out)
}

func doSessionClose(ctx context.Context, cfg cliConfig, id string) error {
	if cfg.Transport == "uds" {
		return newRPCClient(cfg.Socket).call(ctx, "session.close", map[string]any{"session": id}, nil)
	}
	return newAPIClient(cfg.Server).request(ctx, http.MethodDelete, sessionPath(id, ""), nil, nil)
}

func doSelectBrand(ctx context.Context, cfg cliConfig, id, brand string, out any) error {
	if cfg.Transport == "uds" {
		return newRPCClient(cfg.Socket).call(ctx, "session.brand", map[string]any{"session": id, "brand": brand}, out)
	}
	return newAPIClient(cfg.Server).request(ctx, http.MethodPost, sessionPath(id, "/brand"), map[string]any{"brand": brand}, out)
}

func doSelectPart(ctx context.Context, cfg cliConfig, id, category, productID string, out any) error {
	if cfg.Transport == "uds" {
		return newRPCClient(cfg.Socket).call(ctx, "session.select", map[string]any{"session": id, "category": category, "productId": productID}, out)
	}
	return newAPIClient(cfg.Server).request(ctx, http.MethodPost, sessionPath(id, "/select"), map[string]any{"category": category, "productId": productID}, out)
}

func doFanAdd(ctx context.Context, cfg cliConfig, id, productID string, out any) error {
	if cfg.Transport == "uds" {
		return newRPCClient(cfg.Socket).call(ctx, "session.fan.add", map[string]any{"session": id, "productId": productID}, out)
	}
	return newAPIClient(cfg.Server).request(ctx, http.MethodPost, sessionPath(id, "/fans"), map[string]any{"productId": productID}, out)
}

func doFanRemove(ctx context.Context, cfg cliConfig, id, productID string, out any) error {
	if cfg.Transport == "uds" {
		return newRPCClient(cfg.Socket).call(ctx, "session.fan.remove", map[string]any{"session": id, "productId": productID}, out)
	}
	return newAPIClient(cfg.Server).request(ctx, http.MethodDelete, sessionPath(id, "/fans/"+url.PathEscape(productID)), nil, out)
}

func doRefresh(ctx context.Context, cfg cliConfig, id string, categories []string, out any) error {
	if cfg.Transport == "uds" {
		return newRPCClient(cfg.Socket).call(ctx, "session.refresh", map[string]any{"session": id, "categories": strings.Join(categories, ",")}, out)
	}
	return newAPIClient(cfg.Server).request(ctx, http.MethodPost, sessionPath(id, "/refresh"), map[string]any{"categories": categories}, out)
}

func doCandidates(ctx context.Context, cfg cliConfig, id, category, q string, out any) error {
	if cfg.Transport == "uds" {
		return newRPCClient(cfg.Socket).call(ctx, "session.candidates", map[string]any{"session": id, "category": category, "q": q, "wait": true}, out)
	}
	params := url.Values{}
	params.Set("wait", "1")
	if q != "" {
		params.Set("q", q)
	}
	path := sessionPath(id, "/candidates/"+url.PathEscape(category)) + "?" + params.Encode()
	return newAPIClient(cfg.Server).request(ctx, http.MethodGet, path, nil, out)
}

func doSaveDraft(ctx context.Context, cfg cliConfig, id string, out any) error {
	if cfg.Transport == "uds" {
		return newRPCClient(cfg.Socket).call(ctx, "session.draft", map[string]any{"session": id}, out)
	}
	return newAPIClient(cfg.Server).request(ctx, http.MethodPost, sessionPath(id, "/draft"), nil, out)
}

func doSubmit(ctx context.Context, cfg cliConfig, id, buildID string, out any) error {
	if cfg.Transport == "uds" {
		return newRPCClient(cfg.Socket).call(ctx, "session.submit", map[string]any{"session": id, "buildId": buildID}, out)
	}
	return newAPIClient(cfg.Server).request(ctx, http.MethodPost, sessionPath(id, "/submit"), map[string]any{"buildId": buildID}, out)
}

func doHistory(ctx context.Context, cfg cliConfig, id string, limit int, out any) error {
	if cfg.Transport == "uds" {
		return newRPCClient(cfg.Socket).call(ctx, "session.history", map[string]any{"session": id, "limit": limit}, out)
	}
	return newAPIClient(cfg.Server).request(ctx, http.MethodGet, sessionPath(id, "/history")+"?limit="+strconv.Itoa(limit), nil, out)
}

func doBuildShow(ctx context.Context, cfg cliConfig, buildID string, out any) error {
	if cfg.Transport == "uds" {
		return newRPCClient(cfg.Socket).call(ctx, "build.get", map[string]any{"buildId": buildID}, out)
	}
	return newAPIClient(cfg.Server).request(ctx, http.MethodGet, "/api/builds/"+url.PathEscape(buildID), nil, out)
}

func sessionPath(id, suffix string) string {
	return "/api/sessions/" + url.PathEscape(id) + suffix
}
