// Package agent 包含挂在消息总线上的处理器：执行代理消费 system.execute，
// 计划调度器消费 plan.created，遥测发布器把工作流进度与结束通知写回总线。
// 处理器本身不持有连接，由 bus.Router 负责消费循环与确认。
package agent
