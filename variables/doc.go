// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package variables 实现 ${scope:key[:default]} 模板变量解析引擎。

# 语法

	${var:name}                 调用方提供的替换变量（提示词渲染）
	${request:user.name}       请求输入文档中的字段路径
	${step:search:documents}   某个已执行步骤的输出字段
	${step:search:count:0}     字段缺失时使用字面默认值 "0"

字段路径按 "." 逐层访问嵌套对象，数字段访问数组下标；包含
"[", "*", "|", "?" 的路径按 JMESPath 表达式求值。

# 语义

  - Resolve 是全函数：不返回错误，未解析且无默认值的引用替换为空字符串
  - 单遍、从左到右扫描，不会对替换结果再次展开
  - 未知 scope 或未闭合的 "${" 原样保留
  - 字符串原样输出，数字使用最短十进制形式，对象与数组输出紧凑 JSON

ResolveValue 在模板恰好是单个占位符时返回原始类型值，供条件判断和
文档列表输入使用；References 对模板做静态扫描，供加载期校验使用。
*/
package variables
