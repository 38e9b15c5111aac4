// Package api 暴露工作流的 REST 接口：提交、状态查询、取消与结果读取，
// 以及健康检查和 Prometheus 指标。
package api
