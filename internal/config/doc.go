// Package config 负责加载 StepScope 的运行配置：插件归档位置、模拟的宿主版本、
// 初始化反应器的调优参数，以及日志与指标的输出方式。
package config
