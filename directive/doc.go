// Copyright (c) dynconf Authors.
// Licensed under the MIT License.

/*
Package directive 实现 nginx 风格配置语言的解析与语义校验。

# 概述

Parse 把文本切分为词、引号字符串、";"、"{"、"}"，按括号平衡构造
嵌套的 Directive 树；Validate 依据封闭的指令表检查指令名、参数个数
与类型、所在上下文、块/叶子形态以及唯一性。两者都是纯函数，可被
多个请求并发调用。

# 错误

所有错误都是 *types.Error：语法错误为 types.ErrSyntax，语义错误为
types.ErrSemantic，Line 指向源文件行号，Reason() 返回可直接回给
调用方的文本，例如 `unknown directive "invalid_directive" in line 2`。

# 文档

Document.Clone 返回不共享任何切片的深拷贝；Document.Render 输出
规范化文本；Document.Checksum 为规范化文本的 xxhash64 摘要，用于
判断两次提交是否为同一份配置。
*/
package directive
